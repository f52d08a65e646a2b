package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// Reason codes that mark a unique-key violation in an error body.
var conflictReasons = map[string]bool{
	"unique_key_conflict": true,
	"duplicate_key":       true,
	"taken":               true,
	"already_exists":      true,
}

// reasonPaths are tried in order to find a machine-readable error reason.
var reasonPaths = []string{"error.code", "error.reason", "code", "reason", "errors.0.code"}

// messagePaths are tried in order to find a human-readable error message.
var messagePaths = []string{"error.message", "message", "errors.0.message", "error"}

// DecodeResponse decodes a JSON response into target and types every
// failure: a 409, or a 400/422 carrying a conflict reason, becomes an
// *errors.ConflictError; anything else non-2xx becomes an *errors.APIError.
func DecodeResponse(resp *http.Response, target any, platform, endpoint string) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Join(errors.ErrTransient, errors.WrapIO("read", "response body", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, body, platform, endpoint)
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.WrapParse("json", endpoint, err)
	}
	return nil
}

func responseError(status int, body []byte, platform, endpoint string) error {
	apiErr := &errors.APIError{
		Platform:   platform,
		StatusCode: status,
		Endpoint:   endpoint,
		Message:    http.StatusText(status),
	}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, path := range reasonPaths {
			if r := parsed.Get(path); r.Exists() && r.Type == gjson.String {
				apiErr.Reason = r.String()
				break
			}
		}
		for _, path := range messagePaths {
			if m := parsed.Get(path); m.Exists() && m.Type == gjson.String {
				apiErr.Message = m.String()
				break
			}
		}
	} else if len(body) > 0 {
		apiErr.Message = string(body)
	}

	conflict := status == http.StatusConflict ||
		(status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && conflictReasons[apiErr.Reason]
	if conflict {
		return &errors.ConflictError{Platform: platform, Reason: apiErr.Message, Err: apiErr}
	}
	return apiErr
}
