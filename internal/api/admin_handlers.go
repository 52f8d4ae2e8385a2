package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mri-screening-server/internal/service"
)

type doctorRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	Specialization  string `json:"specialization"`
	LicenseNumber   string `json:"license_number"`
	ExperienceYears int    `json:"experience_years"`
}

type activeRequest struct {
	IsActive *bool `json:"is_active"`
}

func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.deps.Users.ListUsers(c.Request.Context(), principal(c), c.Query("role"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": len(users)})
}

func (s *Server) handleCreateDoctor(c *gin.Context) {
	var req doctorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}

	user, err := s.deps.Users.CreateDoctor(c.Request.Context(), principal(c), service.DoctorRequest(req))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Doctor account created successfully", "user": user})
}

func (s *Server) handleApproveDoctor(c *gin.Context) {
	user, err := s.deps.Users.ApproveDoctor(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Doctor approved successfully", "user": user})
}

func (s *Server) handleSetActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.invalidBody(c, err)
		return
	}
	if req.IsActive == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}

	user, err := s.deps.Users.SetActive(c.Request.Context(), principal(c), c.Param("id"), *req.IsActive)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Account status updated", "user": user})
}
