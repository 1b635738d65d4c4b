package chain

// tokenABI is the subset of ERC20 the adapter flow needs.
const tokenABI = `[
  {"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// adapterABI is the yield-bearing staking adapter.
const adapterABI = `[
  {"inputs":[{"name":"amount","type":"uint256"}],"name":"stake","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"amount","type":"uint256"}],"name":"unstake","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"user","type":"address"}],"name":"viewBalance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalStaked","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const (
	methodBalanceOf   = "balanceOf"
	methodAllowance   = "allowance"
	methodApprove     = "approve"
	methodStake       = "stake"
	methodUnstake     = "unstake"
	methodViewBalance = "viewBalance"
	methodTotalStaked = "totalStaked"
)
