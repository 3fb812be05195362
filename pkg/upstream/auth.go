package upstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/agenthive/hive/pkg/config"
)

// Auth is the OAuth identity read from the editor's apps.json store.
type Auth struct {
	Token string
	User  string
	AppID string
}

type appsEntry struct {
	OAuthToken string `json:"oauth_token"`
	User       string `json:"user"`
}

// ReadAuth loads the OAuth token from apps.json. Keys look like
// "github.com:AppId". User tokens (ghu_ prefix) are preferred over app
// tokens because they carry the org feature flags.
func ReadAuth(appsPath string) (Auth, error) {
	data, err := os.ReadFile(appsPath)
	if err != nil {
		return Auth{}, fmt.Errorf("read auth store: %w", err)
	}
	var apps map[string]appsEntry
	if err := json.Unmarshal(data, &apps); err != nil {
		return Auth{}, fmt.Errorf("parse auth store %s: %w", appsPath, err)
	}

	keys := make([]string, 0, len(apps))
	for key := range apps {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pick := func(match func(token string) bool) (Auth, bool) {
		for _, key := range keys {
			entry := apps[key]
			if entry.OAuthToken == "" || !match(entry.OAuthToken) {
				continue
			}
			appID := ""
			if _, id, ok := strings.Cut(key, ":"); ok {
				appID = id
			}
			return Auth{Token: entry.OAuthToken, User: entry.User, AppID: appID}, true
		}
		return Auth{}, false
	}

	if auth, ok := pick(func(t string) bool { return strings.HasPrefix(t, "ghu_") }); ok {
		return auth, nil
	}
	if auth, ok := pick(func(string) bool { return true }); ok {
		return auth, nil
	}
	return Auth{}, fmt.Errorf("no OAuth token found in %s", appsPath)
}

// BuildHTTPSettings converts a proxy config into the http settings object
// the upstream server consumes via workspace/didChangeConfiguration. A
// proxy URL carrying credentials is split: the credentials become a Basic
// proxyAuthorization header and the URL is sent clean.
func BuildHTTPSettings(proxy config.ProxyConfig) (map[string]any, error) {
	parsed, err := url.Parse(proxy.URL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	settings := map[string]any{
		"proxy":          proxy.URL,
		"proxyStrictSSL": !proxy.NoSSLVerify,
	}
	if user := parsed.User; user != nil {
		password, _ := user.Password()
		creds := user.Username() + ":" + password
		settings["proxyAuthorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
		clean := *parsed
		clean.User = nil
		settings["proxy"] = clean.String()
	}
	return settings, nil
}
