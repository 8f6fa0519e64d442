package controllers

import (
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	services "github.com/phillip/schoolfund-go/services"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type usernameLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// respondSession returns the token and also sets it as an HttpOnly cookie.
func respondSession(c *gin.Context, sess *services.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("token", sess.Token, maxAge, "/", "", c.Request.TLS != nil, true)
	c.JSON(http.StatusOK, sess)
}

// ---------------- DONORS ----------------
func RegisterDonor(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input services.DonorRegistration
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		donor, err := svc.Accounts.RegisterDonor(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "donor registered", "donor": donor})
	}
}

func LoginDonor(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input loginRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
			return
		}
		sess, err := svc.Accounts.LoginDonor(c.Request.Context(), input.Email, input.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, sess)
	}
}

// ---------------- SCHOOLS ----------------
func RegisterSchool(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := services.SchoolRegistration{
			SchoolName:     c.PostForm("name"),
			Email:          c.PostForm("email"),
			Password:       c.PostForm("password"),
			Phone:          c.PostForm("phone"),
			Address:        c.PostForm("address"),
			PrincipalName:  c.PostForm("principalName"),
			PrincipalEmail: c.PostForm("principalEmail"),
		}

		var closers []multipart.File
		defer func() {
			for _, f := range closers {
				f.Close()
			}
		}()
		for field, dst := range map[string]**services.Upload{"logo": &input.Logo, "certificate": &input.Certificate} {
			fh, err := c.FormFile(field)
			if err != nil {
				continue
			}
			up, f, err := openUpload(fh)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read " + field})
				return
			}
			closers = append(closers, f)
			*dst = up
		}

		school, err := svc.Accounts.RegisterSchool(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"message": "registration received, awaiting approval",
			"school":  school,
		})
	}
}

func LoginSchool(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input loginRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
			return
		}
		sess, err := svc.Accounts.LoginSchool(c.Request.Context(), input.Email, input.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, sess)
	}
}

// ---------------- PRINCIPALS ----------------
func LoginPrincipal(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input usernameLoginRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		sess, err := svc.Accounts.LoginPrincipal(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, sess)
	}
}

// ---------------- ADMIN ----------------
func LoginAdmin(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input usernameLoginRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		sess, err := svc.Accounts.LoginAdmin(c.Request.Context(), input.Username, input.Password)
		if err != nil {
			respondError(c, err)
			return
		}
		respondSession(c, sess)
	}
}

func ListSchoolRequests(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := svc.Accounts.SchoolRequests(c.Request.Context(), c.Query("status"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reqs)
	}
}

func ApproveSchool(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		school, err := svc.Accounts.ApproveSchool(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "school approved", "school": school})
	}
}

func DeclineSchool(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var input struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		school, err := svc.Accounts.DeclineSchool(c.Request.Context(), id, input.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "school declined", "school": school})
	}
}
