package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event identifiers for the contract events the agent listens to.
var (
	LiquidationEventID = vaultABI.Events["LiquidateCollateral"].ID
	MaintenanceEventID = vaultABI.Events["MaintainCollateral"].ID
	TransferEventID    = tokenABI.Events["Transfer"].ID
)

// CorrectionEvent is a decoded LiquidateCollateral or MaintainCollateral log.
type CorrectionEvent struct {
	Collateral         common.Address
	DebtToken          common.Address
	Actor              common.Address
	Account            common.Address
	DebtQuantity       *big.Int
	CollateralQuantity *big.Int
}

// ParseCorrectionEvent decodes a vault correction log of either kind.
func ParseCorrectionEvent(l types.Log) (CorrectionEvent, error) {
	if len(l.Topics) != 4 {
		return CorrectionEvent{}, errors.New("correction event: unexpected topic count")
	}

	var name string
	switch l.Topics[0] {
	case LiquidationEventID:
		name = "LiquidateCollateral"
	case MaintenanceEventID:
		name = "MaintainCollateral"
	default:
		return CorrectionEvent{}, errors.New("correction event: unknown event id")
	}

	outputs, err := vaultABI.Unpack(name, l.Data)
	if err != nil {
		return CorrectionEvent{}, fmt.Errorf("unpack %s: %w", name, err)
	}
	if len(outputs) != 3 {
		return CorrectionEvent{}, fmt.Errorf("%s: unexpected data arity", name)
	}

	account, ok := outputs[0].(common.Address)
	if !ok {
		return CorrectionEvent{}, fmt.Errorf("%s: bad account field", name)
	}
	debtQuantity, ok := outputs[1].(*big.Int)
	if !ok {
		return CorrectionEvent{}, fmt.Errorf("%s: bad debt quantity field", name)
	}
	collateralQuantity, ok := outputs[2].(*big.Int)
	if !ok {
		return CorrectionEvent{}, fmt.Errorf("%s: bad collateral quantity field", name)
	}

	return CorrectionEvent{
		Collateral:         common.BytesToAddress(l.Topics[1].Bytes()),
		DebtToken:          common.BytesToAddress(l.Topics[2].Bytes()),
		Actor:              common.BytesToAddress(l.Topics[3].Bytes()),
		Account:            account,
		DebtQuantity:       debtQuantity,
		CollateralQuantity: collateralQuantity,
	}, nil
}

// MatchCorrection reports whether a log is the correction this agent is
// waiting on. All four structural fields must match; anything less is some
// other actor's event.
func MatchCorrection(l types.Log, eventID common.Hash, vault, collateral, debt, actor, target common.Address) bool {
	if l.Address != vault || len(l.Topics) != 4 || l.Topics[0] != eventID {
		return false
	}

	ev, err := ParseCorrectionEvent(l)
	if err != nil {
		return false
	}

	return ev.Collateral == collateral &&
		ev.DebtToken == debt &&
		ev.Actor == actor &&
		ev.Account == target
}

// TransferEvent is a decoded token Transfer log.
type TransferEvent struct {
	From     common.Address
	To       common.Address
	Quantity *big.Int
}

// ParseTransferEvent decodes a token Transfer log.
func ParseTransferEvent(l types.Log) (TransferEvent, error) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferEventID {
		return TransferEvent{}, errors.New("transfer event: unexpected shape")
	}

	outputs, err := tokenABI.Unpack("Transfer", l.Data)
	if err != nil {
		return TransferEvent{}, fmt.Errorf("unpack Transfer: %w", err)
	}
	quantity, ok := outputs[0].(*big.Int)
	if !ok {
		return TransferEvent{}, errors.New("transfer event: bad quantity field")
	}

	return TransferEvent{
		From:     common.BytesToAddress(l.Topics[1].Bytes()),
		To:       common.BytesToAddress(l.Topics[2].Bytes()),
		Quantity: quantity,
	}, nil
}

// MatchTransfer reports whether a log is a Transfer on the given token
// crediting the given recipient.
func MatchTransfer(l types.Log, token, recipient common.Address) bool {
	if l.Address != token {
		return false
	}
	ev, err := ParseTransferEvent(l)
	if err != nil {
		return false
	}
	return ev.To == recipient
}
