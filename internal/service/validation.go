package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/afterschool-ops-api/internal/models"
	"github.com/noah-isme/afterschool-ops-api/pkg/calendar"
	appErrors "github.com/noah-isme/afterschool-ops-api/pkg/errors"
)

func newValidator(validate *validator.Validate) *validator.Validate {
	if validate == nil {
		validate = validator.New()
	}
	validate.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := calendar.ParseDate(fl.Field().String())
		return err == nil
	})
	return validate
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, strings.Join(parts, "; "))
	}
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
}

// slotHours validates a slot and translates calendar errors into typed errors.
func slotHours(slot models.TimeSlot) (decimal.Decimal, error) {
	hours, err := slot.Duration()
	switch {
	case err == nil:
		return hours, nil
	case errors.Is(err, calendar.ErrInvalidTimeFormat):
		return decimal.Zero, appErrors.Wrap(err, appErrors.ErrInvalidTimeFormat.Code, appErrors.ErrInvalidTimeFormat.Status, err.Error())
	case errors.Is(err, calendar.ErrInvalidTimeSlot):
		return decimal.Zero, appErrors.Wrap(err, appErrors.ErrInvalidTimeSlot.Code, appErrors.ErrInvalidTimeSlot.Status, err.Error())
	default:
		return decimal.Zero, err
	}
}

// resolveHours picks the hours credited for a line. Explicit hours win; otherwise
// attended credits the full slot and absent credits nothing.
// hourScale is the number of decimal places hour columns store.
const hourScale = 2

// checkHourScale rejects values finer than the hour columns keep; a stored line
// must restore exactly what it charged.
func checkHourScale(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(hourScale)) {
		return appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s supports at most %d decimal places", field, hourScale))
	}
	return nil
}

func resolveHours(attended *bool, hours *decimal.Decimal, slotDuration decimal.Decimal) (bool, decimal.Decimal, error) {
	if hours != nil {
		if err := checkHourScale("hours_attended", *hours); err != nil {
			return false, decimal.Zero, err
		}
		if hours.IsNegative() || hours.GreaterThan(slotDuration) {
			return false, decimal.Zero, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("hours_attended must be between 0 and %s", slotDuration))
		}
		present := hours.IsPositive()
		if attended != nil {
			present = *attended
		}
		return present, *hours, nil
	}
	if attended == nil {
		return false, decimal.Zero, appErrors.Clone(appErrors.ErrValidation, "attended or hours_attended is required")
	}
	if *attended {
		return true, slotDuration, nil
	}
	return false, decimal.Zero, nil
}

func ensureUniqueStudents(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return appErrors.Clone(appErrors.ErrConsistency, fmt.Sprintf("student %s appears more than once", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}
