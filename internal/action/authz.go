package action

import (
	"context"
	"fmt"

	"github.com/registerlabs/ledgerflow/internal/ledger"
	"github.com/registerlabs/ledgerflow/model"
)

// authorizeWallet verifies the caller owns the sender wallet. Service
// principals and absent callers skip the check entirely; the participant
// directory is never queried for them.
func (e *Executor) authorizeWallet(ctx context.Context, caller *model.Principal, senderWallet string) error {
	if caller == nil || caller.IsService() {
		return nil
	}

	info, err := e.directory.GetByUserAndOrg(ctx, caller.UserID, caller.OrgID)
	if err != nil {
		return err
	}
	if info == nil {
		return model.NewUnauthorizedError("no participant profile found for your user and organization")
	}
	if info.Status != ledger.ParticipantStatusActive {
		return model.NewUnauthorizedError(fmt.Sprintf("participant profile status is %s", info.Status))
	}

	wallets, err := e.directory.GetLinkedWallets(ctx, info.ID, true)
	if err != nil {
		return err
	}
	for _, w := range wallets {
		if w.Active && w.Address == senderWallet {
			return nil
		}
	}
	return model.NewUnauthorizedError(fmt.Sprintf("wallet %q is not linked to your participant account", senderWallet))
}
