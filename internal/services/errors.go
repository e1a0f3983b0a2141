package services

import (
	"errors"
	"fmt"

	"github.com/certified-builder/api/internal/repositories"
)

var (
	// ErrIntakeInvalidInput signals a malformed build request or order.
	ErrIntakeInvalidInput = errors.New("intake: invalid input")
	// ErrIntakeUnavailable signals that no order of the batch could be processed.
	ErrIntakeUnavailable = errors.New("intake: unavailable")
	// ErrOrderSourceUnavailable wraps order source transport or status failures.
	ErrOrderSourceUnavailable = errors.New("intake: order source unavailable")
	// ErrPublishFailed signals the build message could not be published. Created orders stay persisted.
	ErrPublishFailed = errors.New("intake: publish failed")

	// ErrCertificateInvalidInput signals an invalid certificate request.
	ErrCertificateInvalidInput = errors.New("certificate: invalid input")
	// ErrCertificateProductNotFound signals statistics were requested for an unknown product.
	ErrCertificateProductNotFound = errors.New("certificate: product not found")
	// ErrCertificateUnavailable wraps persistence failures while reading certificates.
	ErrCertificateUnavailable = errors.New("certificate: unavailable")
	// ErrEventPayloadInvalid signals an undecodable completion message.
	ErrEventPayloadInvalid = errors.New("certificate: invalid event payload")

	// ErrProductInvalidInput signals an invalid product id.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound signals the product does not exist.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductUnavailable wraps persistence failures during product workflows.
	ErrProductUnavailable = errors.New("product: unavailable")
)

// wrapRepoError maps repository failures onto a service sentinel, keeping the cause.
func wrapRepoError(sentinel, notFound error, err error) error {
	if err == nil {
		return nil
	}
	if notFound != nil && repositories.IsNotFound(err) {
		return fmt.Errorf("%w: %v", notFound, err)
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
