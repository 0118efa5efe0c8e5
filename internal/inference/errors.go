package inference

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModelUnavailable = errors.New("model unavailable")

var modelUnavailableMarkers = []string{
	"404",
	"not found",
	"model_not_supported",
	"not supported",
	"not available",
}

const supportedModelsURL = "https://huggingface.co/docs/inference-providers"

// WrapModelError turns provider errors that indicate a missing or retired
// model into an actionable message. Other errors are returned wrapped as is.
func WrapModelError(service, model string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range modelUnavailableMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf(
				"%s model '%s' is not available on the current inference provider. Models change over time; use a supported model and set HF_%s_MODEL in .env. See: %s: %w (%v)",
				service, model, strings.ToUpper(service), supportedModelsURL, ErrModelUnavailable, err,
			)
		}
	}
	return fmt.Errorf("%s inference failed: %w", service, err)
}
