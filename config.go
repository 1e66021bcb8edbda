package gscluster

// Config holds the settings read from the environment
var Config struct {
	SiteURL           string
	ClientSecretFile  string
	TokenDB           string
	RedirectPort      int
	PathContains      string
	RowLimit          int
	StopwordsLanguage string
	APIBaseURL        string
}
