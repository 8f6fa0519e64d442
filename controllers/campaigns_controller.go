package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
	services "github.com/phillip/schoolfund-go/services"
)

// campaignBodyLimit leaves room for the JSON around a maximal image.
const campaignBodyLimit = services.MaxCampaignImagePayload + 1<<20

type campaignRequest struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Amount       float64 `json:"amount"`
	CategoryID   string  `json:"categoryId"`
	MonetaryType string  `json:"monetaryType"`
	Deadline     string  `json:"deadline"`
	Image        string  `json:"image"`
}

func campaignVersion(v services.CampaignView) (primitive.ObjectID, time.Time) {
	return v.ID, v.UpdatedAt
}

// ---------------- CREATE ----------------
func CreateCampaign(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, campaignBodyLimit)
		var input campaignRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large; the maximum file size is about 7MB"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var deadline time.Time
		if strings.TrimSpace(input.Deadline) != "" {
			d, err := parseDate(input.Deadline)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "deadline must be YYYY-MM-DD or RFC3339"})
				return
			}
			deadline = d
		}

		campaign, err := svc.Campaigns.Create(c.Request.Context(), services.CampaignInput{
			SchoolID:     schoolID,
			Name:         input.Name,
			Description:  input.Description,
			Amount:       input.Amount,
			CategoryID:   input.CategoryID,
			MonetaryType: input.MonetaryType,
			Deadline:     deadline,
			Image:        input.Image,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		msg := "campaign created"
		if campaign.Status == models.CampaignPrincipalPending {
			msg = "campaign created, awaiting principal approval"
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg, "campaign": campaign})
	}
}

// ---------------- LIST ----------------
func ListCampaigns(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		views, err := svc.Campaigns.Approved(c.Request.Context(), c.Query("category"))
		if err != nil {
			respondError(c, err)
			return
		}
		respondList(c, views, campaignVersion)
	}
}

func ListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.Categories())
	}
}

func ListSchoolCampaigns(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := idParam(c, "schoolID")
		if !ok {
			return
		}
		views, err := svc.Campaigns.BySchool(c.Request.Context(), schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondList(c, views, campaignVersion)
	}
}

func ListPrincipalPending(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}
		views, err := svc.Campaigns.PendingForPrincipal(c.Request.Context(), schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondList(c, views, campaignVersion)
	}
}

// ---------------- GET ----------------
func GetCampaign(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		view, err := svc.Campaigns.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		respondOne(c, view.ID, view.UpdatedAt, view)
	}
}

// ---------------- PRINCIPAL DECISION ----------------
func PrincipalDecide(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}
		var input struct {
			Action string `json:"action" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action must be approve or reject"})
			return
		}

		campaign, err := svc.Campaigns.Decide(c.Request.Context(), id, schoolID, input.Action)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "campaign " + campaign.Status, "campaign": campaign})
	}
}

// ---------------- CLOSE ----------------
func CloseCampaign(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}
		campaign, err := svc.Campaigns.Close(c.Request.Context(), id, schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "campaign closed", "campaign": campaign})
	}
}

// ---------------- DELETE ----------------
func DeleteCampaign(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}
		if err := svc.Campaigns.Delete(c.Request.Context(), id, schoolID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "campaign deleted"})
	}
}
