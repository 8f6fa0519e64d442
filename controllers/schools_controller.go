package controllers

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	models "github.com/phillip/schoolfund-go/models"
	services "github.com/phillip/schoolfund-go/services"
)

// ---------------- SPENDING ----------------
func RecordSpending(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		campaignID, ok := idParam(c, "campaignId")
		if !ok {
			return
		}
		schoolID, ok := callerSchoolID(c)
		if !ok {
			return
		}

		amount, _ := strconv.ParseFloat(strings.TrimSpace(c.PostForm("amount")), 64)
		input := services.SpendingInput{
			CampaignID:  campaignID,
			SchoolID:    schoolID,
			Date:        c.PostForm("date"),
			Destination: c.PostForm("destination"),
			Amount:      amount,
			Description: c.PostForm("description"),
		}

		if form, err := c.MultipartForm(); err == nil {
			docs := form.File["documents"]
			if len(docs) > services.MaxSpendingDocuments {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d documents can be attached", services.MaxSpendingDocuments)})
				return
			}
			var opened []multipart.File
			defer func() {
				for _, f := range opened {
					f.Close()
				}
			}()
			for _, fh := range docs {
				up, f, err := openUpload(fh)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "could not read " + fh.Filename})
					return
				}
				opened = append(opened, f)
				input.Documents = append(input.Documents, up)
			}
		}

		spending, err := svc.Reports.RecordSpending(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "spending recorded", "spending": spending})
	}
}

func ListSpending(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := idParam(c, "schoolID")
		if !ok {
			return
		}
		rows, err := svc.Reports.ListSpending(c.Request.Context(), schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		respondList(c, rows, func(s models.Spending) (primitive.ObjectID, time.Time) {
			return s.ID, s.CreatedAt
		})
	}
}

func SchoolSummary(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := idParam(c, "schoolID")
		if !ok {
			return
		}
		summary, err := svc.Reports.Summary(c.Request.Context(), schoolID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// ---------------- EXPENSE REPORT ----------------
func ExpenseReport(svc *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		schoolID, ok := idParam(c, "schoolID")
		if !ok {
			return
		}
		requester, ok := callerSchoolID(c)
		if !ok {
			return
		}

		report, err := svc.Reports.ExpenseReport(c.Request.Context(), schoolID, requester, c.Query("month"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.Filename))
		c.Data(http.StatusOK, "text/csv; charset=utf-8", report.Data)
	}
}
