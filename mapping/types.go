package mapping

// TagMapping is a stored EPC-to-encrypted-code association as returned by
// the persistence store. EPCHash, ProductID and ContainerID may be empty
// depending on how the record was created.
type TagMapping struct {
	ID            string `json:"id"`
	EPC           string `json:"epc"`
	EncryptedCode string `json:"encrypted_qr"`
	EPCHash       string `json:"epc_hash,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	ContainerID   string `json:"container_id,omitempty"`
	IsActive      bool   `json:"is_active"`
}

// CreateRequest is the payload for creating a new mapping.
type CreateRequest struct {
	EPC       string `json:"epc"`
	ProductID string `json:"product_id,omitempty"`
}

// VerifyRequest asks the store whether an EPC and a code correspond.
type VerifyRequest struct {
	EPC    string `json:"epc"`
	QRCode string `json:"qr_code"`
}

// VerifyResult is the store's answer to a verification request.
type VerifyResult struct {
	Match   bool   `json:"match"`
	Message string `json:"message"`
}
