package config

import "errors"

var (
	ErrMissingListenAddr     = errors.New("listen address is required")
	ErrInvalidNetwork        = errors.New("unrecognized network id")
	ErrMissingGenesisAccount = errors.New("genesis account is required")
	ErrGenesisBalanceZero    = errors.New("genesis balance must be > 0")
	ErrPeerCutoffTooLow      = errors.New("peer cutoff must be >= keepalive period")
	ErrGapBoundTooLow        = errors.New("gap cache bound must be >= 1")
	ErrElectionPeriodTooLow  = errors.New("election period must be >= 1ms")
	ErrBootstrapQueueTooLow  = errors.New("bootstrap queue size must be >= 1")
)
