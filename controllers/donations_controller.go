package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	services "github.com/phillip/schoolfund-go/services"
)

type monetaryRequest struct {
	CampaignID string  `json:"campaignId" binding:"required"`
	Amount     float64 `json:"amount" binding:"required"`
	Visibility string  `json:"visibility"`
	Message    string  `json:"message"`
}

func (r monetaryRequest) input(donorID primitive.ObjectID) (services.MonetaryInput, bool) {
	campaignID, err := primitive.ObjectIDFromHex(r.CampaignID)
	if err != nil {
		return services.MonetaryInput{}, false
	}
	return services.MonetaryInput{
		DonorID:    donorID,
		CampaignID: campaignID,
		Amount:     r.Amount,
		Visibility: r.Visibility,
		Message:    r.Message,
	}, true
}

// ---------------- MONETARY ----------------
func CreateMonetaryDonation(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		donorID, ok := callerID(c)
		if !ok {
			return
		}
		var req monetaryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "campaignId and a positive amount are required"})
			return
		}
		input, ok := req.input(donorID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaignId"})
			return
		}

		receipt, err := svc.Donations.RecordMonetary(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "donation recorded", "donation": receipt.Donation, "payment": receipt.Payment})
	}
}

// ---------------- NON-MONETARY ----------------
func CreateNonMonetaryDonation(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		donorID, ok := callerID(c)
		if !ok {
			return
		}

		input := services.NonMonetaryInput{DonorID: donorID}
		form, err := c.MultipartForm()
		if err == nil {
			photos := form.File["photo"]
			if len(photos) > 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one evidence photo is allowed"})
				return
			}
			if len(photos) == 1 {
				up, f, err := openUpload(photos[0])
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "could not read evidence photo"})
					return
				}
				defer f.Close()
				input.Photo = up
			}
		}

		if input.Photo != nil {
			input.CampaignID, _ = primitive.ObjectIDFromHex(c.PostForm("campaignId"))
			input.DeliveryMethod = c.PostForm("deliveryMethod")
			input.Quantity, _ = strconv.Atoi(strings.TrimSpace(c.PostForm("quantity")))
			input.Notes = c.PostForm("notes")
			input.CourierRef = c.PostForm("courierRef")
			if raw := c.PostForm("deadlineDate"); strings.TrimSpace(raw) != "" {
				d, err := parseDate(raw)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "deadlineDate must be YYYY-MM-DD or RFC3339"})
					return
				}
				input.DeadlineDate = &d
			}
			if input.CampaignID.IsZero() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaignId"})
				return
			}
		}

		intent, err := svc.Donations.RecordNonMonetary(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "donation pledged", "donation": intent})
	}
}

func UpdateNonMonetaryStatus(svc *services.Services) gin.HandlerFunc {
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
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
			return
		}
		intent, err := svc.Donations.UpdateNonMonetaryStatus(c.Request.Context(), id, schoolID, input.Status)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, intent)
	}
}

// ---------------- HISTORY ----------------
func DonationHistory(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		donorID, ok := callerID(c)
		if !ok {
			return
		}
		history, err := svc.Donations.DonorHistory(c.Request.Context(), donorID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, history)
	}
}

func SchoolDonations(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := idParam(c, "schoolID")
		if !ok {
			return
		}
		rows, err := svc.Donations.SchoolDonations(c.Request.Context(), schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

