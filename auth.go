package gscluster

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// SearchConsoleScope grants read access to search analytics.
const SearchConsoleScope = "https://www.googleapis.com/auth/webmasters.readonly"

// TokenStore keeps OAuth tokens in a SQLite database, keyed by OAuth client ID.
type TokenStore struct {
	db *sql.DB
}

// OpenTokenStore opens or creates the token database at path.
func OpenTokenStore(path string) (*TokenStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS tokens (
		client_id TEXT PRIMARY KEY,
		token_json TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		if err := db.Close(); err != nil {
			zap.L().Warn("Failed to close token database", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to create tokens table: %w", err)
	}

	return &TokenStore{db: db}, nil
}

// Load returns the token saved for clientID or ErrNoToken.
func (s *TokenStore) Load(clientID string) (*oauth2.Token, error) {
	var tokenJSON string
	err := s.db.QueryRow("SELECT token_json FROM tokens WHERE client_id = ?", clientID).Scan(&tokenJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(tokenJSON), &tok); err != nil {
		return nil, fmt.Errorf("failed to parse stored token: %w", err)
	}
	return &tok, nil
}

// Save stores tok for clientID, replacing any previous token.
func (s *TokenStore) Save(clientID string, tok *oauth2.Token) error {
	tokenJSON, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	upsertSQL := `
	INSERT INTO tokens (client_id, token_json, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(client_id) DO UPDATE SET token_json = excluded.token_json, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(upsertSQL, clientID, string(tokenJSON)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

// persistingTokenSource writes every new access token back to the store so
// refreshed credentials survive the process.
type persistingTokenSource struct {
	base     oauth2.TokenSource
	store    *TokenStore
	clientID string

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(p.clientID, tok); err != nil {
			zap.L().Warn("Failed to persist refreshed token", zap.Error(err))
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

// LoadOAuthConfig reads a Google client secret JSON file.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, SearchConsoleScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client secret: %w", err)
	}
	return cfg, nil
}

// NewSearchConsoleClient returns an HTTP client authorized with the token
// stored for cfg. Tokens are refreshed as needed and saved back to store.
func NewSearchConsoleClient(ctx context.Context, cfg *oauth2.Config, store *TokenStore) (*http.Client, error) {
	tok, err := store.Load(cfg.ClientID)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return nil, fmt.Errorf("no saved credentials, run the login command first: %w", err)
		}
		return nil, err
	}

	ts := &persistingTokenSource{
		base:     cfg.TokenSource(ctx, tok),
		store:    store,
		clientID: cfg.ClientID,
		last:     tok.AccessToken,
	}
	return oauth2.NewClient(ctx, ts), nil
}

// newSearchConsoleFetcher builds a fetcher from Config. The returned func
// closes the token store.
func newSearchConsoleFetcher(ctx context.Context) (*SearchConsoleFetcher, func(), error) {
	if Config.SiteURL == "" {
		return nil, nil, errors.New("GSC_SITE_URL is not set")
	}
	cfg, err := LoadOAuthConfig(Config.ClientSecretFile)
	if err != nil {
		return nil, nil, err
	}
	store, err := OpenTokenStore(Config.TokenDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open token store: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			zap.L().Warn("Failed to close token store", zap.Error(err))
		}
	}

	client, err := NewSearchConsoleClient(ctx, cfg, store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return &SearchConsoleFetcher{Client: client, BaseURL: Config.APIBaseURL}, closeStore, nil
}

// AuthorizeLocal runs the installed-app authorization flow. It listens on
// localhost:port for the redirect, prints the consent URL to out and
// exchanges the returned code for a token.
func AuthorizeLocal(ctx context.Context, cfg *oauth2.Config, port int, out io.Writer) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for the OAuth redirect: %w", err)
	}

	flowCfg := *cfg
	flowCfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", port)

	state, err := randomState()
	if err != nil {
		ln.Close()
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			select {
			case errCh <- fmt.Errorf("authorization denied: %s", q.Get("error")):
			default:
			}
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
		select {
		case codeCh <- q.Get("code"):
		default:
		}
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	defer srv.Shutdown(context.Background())

	authURL := flowCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	fmt.Fprintf(out, "Open this URL in your browser to authorize access:\n\n%s\n\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := flowCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// LoginCmd authorizes read access to Search Console and stores the token.
var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize access to Search Console and store the credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadOAuthConfig(Config.ClientSecretFile)
		if err != nil {
			return err
		}
		store, err := OpenTokenStore(Config.TokenDB)
		if err != nil {
			return fmt.Errorf("failed to open token store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				zap.L().Warn("Failed to close token store", zap.Error(err))
			}
		}()

		tok, err := AuthorizeLocal(cmd.Context(), cfg, Config.RedirectPort, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := store.Save(cfg.ClientID, tok); err != nil {
			return err
		}
		zap.L().Info("Credentials saved", zap.String("db", Config.TokenDB))
		return nil
	},
}
