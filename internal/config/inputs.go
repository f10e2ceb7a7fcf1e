package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Inputs reads the per-run static inputs: tracked accounts and the prompt
// template. Both are re-read at the start of every run.
type Inputs struct {
	AccountsPath string
	TemplatePath string
}

// Inputs returns the readers for the configured paths.
func (c *Config) Inputs() Inputs {
	return Inputs{AccountsPath: c.Paths.Accounts, TemplatePath: c.Paths.PromptTemplate}
}

// Accounts returns the tracked accounts in file order: one per line, blank
// lines and # comments ignored, a leading @ dropped, duplicates removed.
func (in Inputs) Accounts() ([]string, error) {
	data, err := os.ReadFile(in.AccountsPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read accounts %s: %w", in.AccountsPath, err)
	}

	var accounts []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		account := strings.TrimPrefix(line, "@")
		if account == "" || seen[account] {
			continue
		}
		seen[account] = true
		accounts = append(accounts, account)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed to parse accounts %s: %w", in.AccountsPath, err)
	}
	return accounts, nil
}

// PromptTemplate returns the user prompt template for per-account summaries.
func (in Inputs) PromptTemplate() (string, error) {
	data, err := os.ReadFile(in.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("config: failed to read prompt template %s: %w", in.TemplatePath, err)
	}
	return string(data), nil
}
