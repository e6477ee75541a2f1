package domain

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodeWebhook unmarshals payload into dst and validates its struct tags.
// Any failure is reported as ErrMalformedWebhook.
func DecodeWebhook(payload []byte, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	return nil
}
