package application

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// WalletInfo describes the wallet the signers are coordinated for.
type WalletInfo struct {
	Network      string
	Descriptor   string
	Threshold    int
	Fingerprints []string
	BuildInfo    BuildInfo
}
