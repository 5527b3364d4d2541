package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter collects a full configuration interactively. Input and output are
// injected so the flow is testable without a terminal; Run never persists.
type Prompter struct {
	In  io.Reader
	Out io.Writer
}

// NewPrompter creates a prompter bound to the process terminal.
func NewPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

// Run walks the operator through configuration and returns a validated
// Config. When an existing configuration is passed in, it is shown first and
// returned unchanged unless the operator chooses to reconfigure.
func (p *Prompter) Run(existing *Config) (*Config, error) {
	scanner := bufio.NewScanner(p.In)

	if existing != nil {
		fmt.Fprintln(p.Out, "Found existing configuration:")
		fmt.Fprintf(p.Out, "  Repository:   %s\n", existing.Slug())
		fmt.Fprintf(p.Out, "  Branch:       %s\n", existing.Branch)
		fmt.Fprintf(p.Out, "  Local path:   %s\n", existing.LocalPath)
		if existing.PostCommand != "" {
			fmt.Fprintf(p.Out, "  Post-command: %s\n", existing.PostCommand)
		} else {
			fmt.Fprintln(p.Out, "  Post-command: none")
		}

		answer, err := p.ask(scanner, "\nReconfigure? (y/n): ")
		if err != nil {
			return nil, err
		}
		if strings.ToLower(answer) != "y" {
			return existing, nil
		}
	}

	cfg := &Config{}

	fmt.Fprintln(p.Out, "\nA personal access token with repository read access is required.")
	for {
		token, err := p.ask(scanner, "Access token: ")
		if err != nil {
			return nil, err
		}
		if token != "" {
			cfg.Token = token
			break
		}
		fmt.Fprintln(p.Out, "Token cannot be empty.")
	}

	for {
		rawURL, err := p.ask(scanner, "\nRepository URL (https://github.com/owner/repo): ")
		if err != nil {
			return nil, err
		}
		owner, name, ok := ParseRepoURL(rawURL)
		if ok {
			cfg.Repo = RepoConfig{Owner: owner, Name: name, URL: rawURL}
			break
		}
		fmt.Fprintln(p.Out, "Please enter a valid repository URL.")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	localPath, err := p.ask(scanner, fmt.Sprintf("\nLocal repository path (default: %s): ", cwd))
	if err != nil {
		return nil, err
	}
	if localPath == "" {
		localPath = cwd
	}
	cfg.LocalPath = localPath

	postCmd, err := p.ask(scanner, "\nPost-pull command (e.g. 'make deploy', empty for none): ")
	if err != nil {
		return nil, err
	}
	cfg.PostCommand = postCmd

	branch, err := p.ask(scanner, fmt.Sprintf("\nBranch to monitor (default: %s): ", DefaultBranch))
	if err != nil {
		return nil, err
	}
	cfg.Branch = branch

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("setup produced an invalid configuration: %w", err)
	}

	return cfg, nil
}

// ask prints a prompt and returns the trimmed next input line.
func (p *Prompter) ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Fprint(p.Out, prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return "", fmt.Errorf("input closed before setup completed")
	}
	return strings.TrimSpace(scanner.Text()), nil
}

// ParseRepoURL extracts the owner and repository name from a hosting URL.
// Accepted forms: https://github.com/owner/repo(.git), git@github.com:owner/repo.git
// and the bare owner/repo shorthand.
func ParseRepoURL(raw string) (owner, name string, ok bool) {
	raw = strings.TrimSpace(strings.TrimSuffix(raw, "/"))
	if raw == "" {
		return "", "", false
	}

	if idx := strings.Index(raw, ":"); strings.HasPrefix(raw, "git@") && idx >= 0 {
		raw = raw[idx+1:]
	} else if idx := strings.Index(raw, "github.com/"); idx >= 0 {
		raw = raw[idx+len("github.com/"):]
	}

	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner = parts[len(parts)-2]
	name = strings.TrimSuffix(parts[len(parts)-1], ".git")
	if owner == "" || name == "" || strings.Contains(owner, ":") {
		return "", "", false
	}
	return owner, name, true
}
