package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleDonor     = "donor"
	RoleSchool    = "school"
	RolePrincipal = "principal"
	RoleAdmin     = "admin"
)

type Donor struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

const (
	SchoolPending  = "pending"
	SchoolApproved = "approved"
	SchoolDeclined = "declined"
)

type PrincipalCredentials struct {
	Username string `bson:"username" json:"username"`
	Password string `bson:"password" json:"-"`
}

// SchoolRequest is a school's registration application. Its ID is the
// school id used everywhere else.
type SchoolRequest struct {
	ID                   primitive.ObjectID    `bson:"_id,omitempty" json:"id"`
	SchoolName           string                `bson:"school_name" json:"school_name"`
	Email                string                `bson:"email" json:"email"`
	PasswordHash         string                `bson:"password_hash" json:"-"`
	Phone                string                `bson:"phone,omitempty" json:"phone,omitempty"`
	Address              string                `bson:"address,omitempty" json:"address,omitempty"`
	PrincipalName        string                `bson:"principal_name" json:"principal_name"`
	PrincipalEmail       string                `bson:"principal_email" json:"principal_email"`
	Logo                 string                `bson:"logo,omitempty" json:"logo,omitempty"`
	Certificate          string                `bson:"certificate,omitempty" json:"certificate,omitempty"`
	Status               string                `bson:"status" json:"status"`
	DeclineReason        string                `bson:"decline_reason,omitempty" json:"decline_reason,omitempty"`
	PrincipalCredentials *PrincipalCredentials `bson:"principal_credentials,omitempty" json:"principal_credentials,omitempty"`
	CreatedAt            time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time             `bson:"updated_at" json:"updated_at"`
}

type Principal struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username     string             `bson:"username" json:"username"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	SchoolID     primitive.ObjectID `bson:"school_id" json:"school_id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}
