package domain

// Well-known Solana addresses and programs.
const (
	// WrappedSOLMint is the wrapped SOL mint, used as the native token
	// sentinel in swap requests.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"

	// USDCMint and USDTMint are the canonical stablecoin mints.
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"

	// TokenProgramID is the legacy SPL token program.
	TokenProgramID = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// Token2022ProgramID is the Token-2022 extension program.
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// Amount and slippage bounds.
const (
	LamportsPerSOL = 1_000_000_000

	SOLDecimals = 9

	// Slippage is expressed in basis points (1 bps = 0.01%).
	MinSlippageBps     = 1
	MaxSlippageBps     = 3000
	DefaultSlippageBps = 100
)

// DefaultRPCEndpoint is the public mainnet endpoint used when no
// endpoint is configured.
const DefaultRPCEndpoint = "https://api.mainnet-beta.solana.com"

// NativeSentinels are input spellings that resolve to the wrapped SOL mint.
var NativeSentinels = map[string]bool{
	"":       true,
	"sol":    true,
	"native": true,
}
