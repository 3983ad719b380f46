package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"

	"github.com/go-playground/validator/v10"

	"regionwatch/internal/types"
)

var validate = validator.New()

// JSON returns a Handler that decodes each message body into T, validates it
// and calls fn. Bodies that fail to decode or validate yield MalformedMessage.
//
// Bodies wrapped in an EventBridge event ("detail") or an SNS notification
// ("Message") are unwrapped first.
func JSON[T any](fn func(ctx context.Context, msg Message, v T) error) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		var v T
		if err := Decode(msg.Body, &v); err != nil {
			return err
		}
		return fn(ctx, msg, v)
	})
}

// Decode unwraps, decodes and validates a message body into dest.
func Decode(body []byte, dest any) error {
	body = unwrapEnvelope(body)
	if len(bytes.TrimSpace(body)) == 0 {
		return types.NewAppError(types.ErrCodeMalformedMessage, "empty message body", nil)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return types.NewAppError(types.ErrCodeMalformedMessage, "message body is not valid JSON for its type", err)
	}
	if reflect.Indirect(reflect.ValueOf(dest)).Kind() == reflect.Struct {
		if err := validate.Struct(dest); err != nil {
			return types.NewAppError(types.ErrCodeMalformedMessage, "message body failed validation", err)
		}
	}
	return nil
}

type envelope struct {
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
	Type       string          `json:"Type"`
	Message    *string         `json:"Message"`
}

func unwrapEnvelope(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return body
	}
	switch {
	case env.DetailType != "" && len(env.Detail) > 0:
		return env.Detail
	case env.Type == "Notification" && env.Message != nil:
		return []byte(*env.Message)
	}
	return body
}
