// Package policy holds the compiled-in method access table. The default
// posture is deny: a method missing from the table requires Admin.
package policy

import (
	"github.com/scroll-tech/rpc-auth-proxy/internal/models"
	"github.com/scroll-tech/rpc-auth-proxy/pkg/errors"
)

// Tier is the minimum privilege required to invoke a method.
type Tier int

const (
	TierPublic Tier = iota
	TierUser
	TierAdmin
)

var methodTiers = map[string]Tier{
	// Public: chain metadata with no account- or transaction-scoped data,
	// plus the sign-in surface itself.
	"eth_chainId":        TierPublic,
	"eth_blockNumber":    TierPublic,
	"eth_gasPrice":       TierPublic,
	"net_version":        TierPublic,
	"web3_clientVersion": TierPublic,
	"siwe_getNonce":      TierPublic,
	"siwe_signIn":        TierPublic,

	// User: reads that reveal account/transaction data, and transaction
	// submission. Sessions prove possession at sign-in time, not ownership
	// of queried addresses, so no address scoping is applied here.
	"eth_getBalance":            TierUser,
	"eth_getTransactionCount":   TierUser,
	"eth_call":                  TierUser,
	"eth_estimateGas":           TierUser,
	"eth_getLogs":               TierUser,
	"eth_sendRawTransaction":    TierUser,
	"eth_getTransactionByHash":  TierUser,
	"eth_getTransactionReceipt": TierUser,
	"eth_getBlockByNumber":      TierUser,
	"eth_getBlockByHash":        TierUser,
	"eth_feeHistory":            TierUser,
	"eth_maxPriorityFeePerGas":  TierUser,
	"eth_getCode":               TierUser,
	"eth_getStorageAt":          TierUser,
	"eth_getProof":              TierUser,
	"eth_syncing":               TierUser,
}

// MethodTier reports the tier of a method, defaulting to TierAdmin.
func MethodTier(method string) Tier {
	if tier, ok := methodTiers[method]; ok {
		return tier
	}
	return TierAdmin
}

// Authorize decides whether identity may invoke method. A nil return means
// allow. Anonymous denials are reported as method-not-found so unprivileged
// callers cannot enumerate the upstream surface.
func Authorize(identity models.Identity, method string) *errors.AppError {
	tier := MethodTier(method)

	switch identity.Kind {
	case models.IdentityAdmin:
		return nil
	case models.IdentityUser:
		if tier <= TierUser {
			return nil
		}
		return errors.Unauthorized()
	default:
		if tier == TierPublic {
			return nil
		}
		return errors.MethodNotFound()
	}
}
