package iotidentity

import "fmt"

// CreateKeysAndCertificateRequest has no fields; the service generates the
// key pair.
type CreateKeysAndCertificateRequest struct{}

// CreateKeysAndCertificateResponse carries a new certificate and its private
// key. The ownership token is passed to RegisterThing.
type CreateKeysAndCertificateResponse struct {
	CertificateID             string `json:"certificateId"`
	CertificatePEM            string `json:"certificatePem"`
	PrivateKey                string `json:"privateKey"`
	CertificateOwnershipToken string `json:"certificateOwnershipToken"`
}

// CreateCertificateFromCsrRequest asks for a certificate signed from a CSR
// whose private key never leaves the device.
type CreateCertificateFromCsrRequest struct {
	CertificateSigningRequest string `json:"certificateSigningRequest"`
}

// CreateCertificateFromCsrResponse is the accepted answer to
// CreateCertificateFromCsr.
type CreateCertificateFromCsrResponse struct {
	CertificateID             string `json:"certificateId"`
	CertificatePEM            string `json:"certificatePem"`
	CertificateOwnershipToken string `json:"certificateOwnershipToken"`
}

// RegisterThingRequest provisions a thing from a fleet provisioning template.
type RegisterThingRequest struct {
	TemplateName              string            `json:"-"`
	CertificateOwnershipToken string            `json:"certificateOwnershipToken"`
	Parameters                map[string]string `json:"parameters,omitempty"`
}

// RegisterThingResponse is the accepted answer to RegisterThing.
type RegisterThingResponse struct {
	ThingName           string            `json:"thingName"`
	DeviceConfiguration map[string]string `json:"deviceConfiguration,omitempty"`
}

// ErrorResponse is the document published on a rejected topic.
type ErrorResponse struct {
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Error implements error.
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("identity request rejected: %d %s: %s", e.StatusCode, e.ErrorCode, e.ErrorMessage)
}
