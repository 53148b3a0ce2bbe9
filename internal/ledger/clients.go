package ledger

import "context"

// RegisterClient is the consumed contract of the distributed ledger service.
type RegisterClient interface {
	// GetTransactionsByInstanceID returns every transaction tagged with the
	// instance id, in whatever order the register yields them.
	GetTransactionsByInstanceID(ctx context.Context, registerID, instanceID string) ([]Transaction, error)

	// GetTransaction returns one transaction by id.
	GetTransaction(ctx context.Context, registerID, txID string) (Transaction, error)

	// Submit sends a signed transaction to the register.
	Submit(ctx context.Context, submission NetworkSubmission) error

	// PublishBlueprint anchors a blueprint definition on the register.
	PublishBlueprint(ctx context.Context, registerID, blueprintID string, payload []byte, actor string) error
}

// WalletClient is the consumed contract of the wallet service. All payload
// cryptography happens wallet-side; the engine only moves bytes.
type WalletClient interface {
	EncryptPayload(ctx context.Context, wallet string, plaintext []byte) ([]byte, error)
	DecryptPayload(ctx context.Context, wallet string, ciphertext []byte) ([]byte, error)

	// DecryptWithDelegation decrypts on behalf of a caller holding a
	// delegation token scoped to the wallet.
	DecryptWithDelegation(ctx context.Context, wallet string, ciphertext []byte, delegationToken string) ([]byte, error)

	// Sign signs the transaction bytes with the wallet's key.
	Sign(ctx context.Context, wallet string, payload []byte) (SignResult, error)
}

// ParticipantDirectory resolves caller identities to participant profiles
// and their linked wallets.
type ParticipantDirectory interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*ParticipantInfo, error)
	GetLinkedWallets(ctx context.Context, participantID string, activeOnly bool) ([]LinkedWalletInfo, error)
}

// ActionNotification tells a participant an action awaits them.
type ActionNotification struct {
	ParticipantID string `json:"participant_id"`
	WalletAddress string `json:"wallet_address"`
	BlueprintID   string `json:"blueprint_id"`
	InstanceID    string `json:"instance_id"`
	ActionID      int    `json:"action_id"`
}

// Notifier dispatches fire-and-forget participant notifications. Failures
// are logged by callers and never surfaced.
type Notifier interface {
	NotifyActionReady(ctx context.Context, n ActionNotification) error
}
