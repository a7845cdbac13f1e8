package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/edutracker/core"
	"github.com/trezcool/edutracker/core/attendance"
)

type (
	NewGroupRequest struct {
		Name string `json:"name" validate:"required,notblank"`
	}

	NewStudentRequest struct {
		Name    string `json:"name" validate:"required,notblank"`
		GroupID string `json:"group_id" validate:"required"`
	}

	ClockRequest struct {
		StudentID string `json:"student_id" validate:"required"`
	}

	ClockOutResponse struct {
		attendance.ClockOutResult
		Quote string `json:"quote"`
	}

	ShareResponse struct {
		URL string `json:"url"`
	}

	RefreshResponse struct {
		Applied bool                  `json:"applied"`
		Cloud   attendance.CloudState `json:"cloud"`
	}

	ReportResponse struct {
		Report string `json:"report"`
	}

	ReportEmailRequest struct {
		Recipients []string `json:"recipients" validate:"omitempty,dive,email"`
	}

	ReportEmailResponse struct {
		Recipients int `json:"recipients"`
	}

	UnlockRequest struct {
		Password string `json:"password" validate:"required"`
	}

	UnlockResponse struct {
		Token           string `json:"token"`
		DefaultPassword bool   `json:"default_password"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (r *NewGroupRequest) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	return validate.Struct(r)
}

func (r *NewStudentRequest) Validate(validate *validator.Validate) error {
	r.Name = core.CleanString(r.Name)
	r.GroupID = core.CleanString(r.GroupID)
	return validate.Struct(r)
}

func (r *ClockRequest) Validate(validate *validator.Validate) error {
	r.StudentID = core.CleanString(r.StudentID)
	return validate.Struct(r)
}

func (r *ReportEmailRequest) Validate(validate *validator.Validate) error {
	for i, rcpt := range r.Recipients {
		r.Recipients[i] = core.CleanString(rcpt, true /* lower */)
	}
	return validate.Struct(r)
}
