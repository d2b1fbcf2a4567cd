package tools

import (
	"os"
	"strings"
)

// Environment helpers. Every variable read by the project is prefixed with
// PPHUB_, e.g.
//
//	PPHUB_HUB_URL            (client hub endpoint)
//	PPHUB_LOG_LEVEL          (debug | info | warn | error)
//	PPHUB_SERVER_BACKPLANE   (memory | redis | nats | kafka)
//	PPHUB_SERVER_NATS_SERVERS(k1,k2 list form)
//	PPHUB_USER               (hubchat sender name)

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
// GetEnvList splits a comma separated variable, dropping empty items.
func GetEnvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LookupEnv reports a variable only when it is set to a non-blank value.
func LookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
