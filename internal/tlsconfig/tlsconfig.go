// Package tlsconfig resolves the TLS client configuration for outbound
// HTTPS calls (model vendors, hub). Plain-HTTP targets get no config at all;
// HTTPS targets honor the operator's CA overrides before falling back to the
// system trust store.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// ConfigError reports an unusable TLS setup. It is raised before any network
// I/O so a bad CA path fails fast instead of poisoning live requests.
type ConfigError struct {
	Message string
	Details map[string]any
}

func (e *ConfigError) Error() string { return e.Message }

// Resolve returns the tls.Config for dialing rawURL. Non-HTTPS URLs resolve
// to nil: the transport stays plain. HTTPS URLs resolve in order:
// insecure-skip-verify flag, explicit CA bundle from env, macOS keychain
// export behind a proxy, then the system trust store (nil config).
func Resolve(rawURL string) (*tls.Config, error) {
	if !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return nil, nil
	}

	if flagEnv("WORKER_TLS_INSECURE_SKIP_VERIFY") {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}

	cafile, err := resolveCAFile()
	if err != nil {
		return nil, err
	}
	if cafile == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(cafile)
	if err != nil {
		return nil, &ConfigError{
			Message: fmt.Sprintf("tls ca file is invalid: %s", cafile),
			Details: map[string]any{"ca_file": cafile, "error": err.Error()},
		}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, &ConfigError{
			Message: fmt.Sprintf("tls ca file is invalid: %s", cafile),
			Details: map[string]any{"ca_file": cafile, "error": "no certificates found"},
		}
	}
	return &tls.Config{RootCAs: pool}, nil
}

// resolveCAFile finds the CA bundle to trust, if any. An explicitly
// configured path that does not exist is an error; implicit sources are
// best-effort.
func resolveCAFile() (string, error) {
	explicit := firstNonEmptyEnv(
		"WORKER_TLS_CA_FILE",
		"SSL_CERT_FILE",
		"REQUESTS_CA_BUNDLE",
		"CURL_CA_BUNDLE",
	)
	if explicit != "" {
		path := expandHome(explicit)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return "", &ConfigError{
				Message: fmt.Sprintf("tls ca file is invalid: %s", path),
				Details: map[string]any{"ca_file": path, "error": "file_not_found"},
			}
		}
		return path, nil
	}

	// Corporate proxies on macOS typically install their root into the
	// keychain rather than a file; export it once per process.
	if runtime.GOOS != "darwin" {
		return "", nil
	}
	if !hasProxyEnv() {
		return "", nil
	}
	return macOSKeychainBundle(), nil
}

var (
	bundleMu     sync.Mutex
	cachedBundle string
)

// macOSKeychainBundle exports the keychain roots to a temp PEM file and
// caches the path for the life of the process. Returns "" when the export
// yields nothing usable.
func macOSKeychainBundle() string {
	bundleMu.Lock()
	defer bundleMu.Unlock()

	if cachedBundle != "" {
		if info, err := os.Stat(cachedBundle); err == nil && !info.IsDir() {
			return cachedBundle
		}
		cachedBundle = ""
	}

	args := []string{"find-certificate", "-a", "-p"}
	args = append(args, keychainCandidates()...)
	out, err := exec.Command("/usr/bin/security", args...).Output()
	if err != nil || len(strings.TrimSpace(string(out))) == 0 {
		return ""
	}

	f, err := os.CreateTemp("", "goyais-ca-*.pem")
	if err != nil {
		return ""
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		os.Remove(f.Name())
		return ""
	}
	f.Close()
	cachedBundle = f.Name()
	return cachedBundle
}

// CleanupKeychainBundle removes the cached keychain export, if one was
// created. Safe to call multiple times; intended as a shutdown defer.
func CleanupKeychainBundle() {
	bundleMu.Lock()
	defer bundleMu.Unlock()
	if cachedBundle == "" {
		return
	}
	os.Remove(cachedBundle)
	cachedBundle = ""
}

func keychainCandidates() []string {
	candidates := []string{
		"/System/Library/Keychains/SystemRootCertificates.keychain",
		"/Library/Keychains/System.keychain",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "Library/Keychains/login.keychain-db"))
	}
	var present []string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			present = append(present, c)
		}
	}
	return present
}

func hasProxyEnv() bool {
	for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"} {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			return true
		}
	}
	return false
}

func firstNonEmptyEnv(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func flagEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
