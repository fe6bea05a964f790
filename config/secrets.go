package config

import (
	"fmt"
	"os"
	"strings"

	"autoprice/objectstore"
)

// ResolveSecret turns a credential reference into its value. "env:NAME" reads
// an environment variable, "file:/path" reads a file, anything else is the
// literal value.
func ResolveSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("config: secret env var %s is not set", name)
		}
		return v, nil
	case strings.HasPrefix(ref, "file:"):
		path := strings.TrimPrefix(ref, "file:")
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: secret file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return ref, nil
}

func resolveAll(refs ...*string) error {
	for _, ref := range refs {
		if *ref == "" {
			continue
		}
		v, err := ResolveSecret(*ref)
		if err != nil {
			return err
		}
		*ref = v
	}
	return nil
}

// WarehouseDSN resolves the warehouse connection string.
func (c *Config) WarehouseDSN() (string, error) {
	return ResolveSecret(c.Warehouse.DSN)
}

// ObjectStore resolves the mirror's credentials.
func (c *Config) ObjectStore() (objectstore.Config, error) {
	out := objectstore.Config{
		Bucket:          c.ADLS.Bucket,
		Prefix:          c.ADLS.Prefix,
		Region:          c.ADLS.Region,
		Endpoint:        c.ADLS.Endpoint,
		AccessKeyID:     c.ADLS.AccessKeyID,
		SecretAccessKey: c.ADLS.SecretAccessKey,
	}
	if err := resolveAll(&out.AccessKeyID, &out.SecretAccessKey); err != nil {
		return objectstore.Config{}, err
	}
	return out, nil
}

// Webhooks resolves the chat webhook URLs, which usually embed a token.
func (c *Config) Webhooks() (gchat, teams string, err error) {
	gchat, teams = c.Notification.Channels.GChat, c.Notification.Channels.Teams
	if err := resolveAll(&gchat, &teams); err != nil {
		return "", "", err
	}
	return gchat, teams, nil
}
