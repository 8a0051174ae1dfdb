package handler

import (
	"sync"

	"github.com/Baaaki/heartscan/internal/models"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the "role" and "model_status" tags to gin's
// validator. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
			return models.Role(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("model_status", func(fl validator.FieldLevel) bool {
			return models.ModelStatus(fl.Field().String()).Valid()
		})
	})
}
