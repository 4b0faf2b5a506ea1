package main

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/payouts_backend/models"
	"github.com/gin-gonic/gin"
)

func listRecipientsHandler(store *models.RecipientStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		mappings, err := store.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mappings)
	}
}

func createRecipientHandler(store *models.RecipientStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var m models.RecipientMapping
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		m.ID = 0
		if err := store.Create(c.Request.Context(), &m); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

func updateRecipientHandler(store *models.RecipientStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be numeric"})
			return
		}
		var m models.RecipientMapping
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := store.Update(c.Request.Context(), uint(id), &m)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func deleteRecipientHandler(store *models.RecipientStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id must be numeric"})
			return
		}
		if err := store.Delete(c.Request.Context(), uint(id)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
