package aws

import (
	"errors"

	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-orderflow-pipeline/internal/apperr"
)

// ClassifyError tags an AWS SDK error with its apperr variant. Client-side
// request errors are invalid; conditional failures are conflicts; everything
// else (throttling, 5xx, network) is left transient.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return apperr.Transient(err)
	}
	switch ae.ErrorCode() {
	case "ConditionalCheckFailedException", "TransactionConflictException":
		return apperr.Conflict(err)
	case "ValidationException", "SerializationException", "InvalidParameterValue",
		"InvalidParameterCombination", "MissingParameter", "InvalidAttributeValue":
		return apperr.Invalid(err)
	default:
		return apperr.Transient(err)
	}
}
