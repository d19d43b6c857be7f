package generation

import "fmt"

var blockReasonMessages = map[string]string{
	"SAFETY":             "The request was blocked by safety filters. Try a different image or prompt.",
	"OTHER":              "The request was blocked for an unspecified reason. Try different images.",
	"BLOCKLIST":          "The prompt contains terms that are not allowed.",
	"PROHIBITED_CONTENT": "The request was flagged as containing prohibited content.",
	"IMAGE_SAFETY":       "The uploaded images were blocked by image safety filters.",
}

// BlockReasonMessage returns a readable explanation for a prompt-level block reason.
func BlockReasonMessage(reason string) string {
	if msg, ok := blockReasonMessages[reason]; ok {
		return msg
	}
	return fmt.Sprintf("The request was blocked by the provider (reason: %s).", reason)
}
