package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/hegemon/internal/logger"
	"github.com/samcharles93/hegemon/internal/vault"
)

const envVaultPassword = "HEGEMON_VAULT_PASSWORD"

type vaultFlags struct {
	dir          string
	passwordFile string
	in           string
	out          string
}

func (v *vaultFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "vault-dir",
			Usage:       "directory holding the salt and check files (default $" + envVaultDir + ")",
			Destination: &v.dir,
		},
		&cli.StringFlag{
			Name:        "password-file",
			Usage:       "read the password from this file (default $" + envVaultPassword + ", then stdin)",
			Destination: &v.passwordFile,
		},
	}
}

func (v *vaultFlags) ioFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "in",
			Aliases:     []string{"i"},
			Usage:       "input file (default stdin)",
			Destination: &v.in,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "output file (default stdout)",
			Destination: &v.out,
		},
	}
}

func (v *vaultFlags) open(ctx context.Context) (*vault.Vault, error) {
	salt, check, err := vaultPaths(v.dir, configFrom(ctx))
	if err != nil {
		return nil, err
	}
	return vault.Open(salt, check)
}

// password returns the vault password. Callers wipe the result.
func (v *vaultFlags) password() ([]byte, error) {
	var raw []byte
	switch {
	case v.passwordFile != "":
		b, err := os.ReadFile(v.passwordFile)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		raw = b
	case os.Getenv(envVaultPassword) != "":
		raw = []byte(os.Getenv(envVaultPassword))
	default:
		line, err := readLine(stdin)
		if err != nil {
			wipe(line)
			return nil, fmt.Errorf("read password: %w", err)
		}
		raw = line
	}
	pw := bytes.TrimRight(raw, "\r\n")
	if len(pw) == 0 {
		wipe(raw)
		return nil, vault.ErrEmptyPassword
	}
	out := bytes.Clone(pw)
	wipe(raw)
	return out, nil
}

// readLine reads up to a newline without buffering past it, so the rest of
// stdin stays available as command input.
func readLine(r io.Reader) ([]byte, error) {
	line := make([]byte, 0, 256)
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			if b[0] == '\n' {
				return line, nil
			}
			line = append(line, b[0])
		}
		if errors.Is(err, io.EOF) {
			return line, nil
		}
		if err != nil {
			return line, err
		}
	}
}

func (v *vaultFlags) unlock(ctx context.Context) (*vault.Vault, error) {
	vt, err := v.open(ctx)
	if err != nil {
		return nil, err
	}
	pw, err := v.password()
	if err != nil {
		return nil, err
	}
	defer wipe(pw)
	if err := vt.Unlock(pw); err != nil {
		return nil, err
	}
	return vt, nil
}

func (v *vaultFlags) input() ([]byte, error) {
	if v.in == "" || v.in == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(v.in)
}

func (v *vaultFlags) output(data []byte) error {
	if v.out == "" || v.out == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(v.out, data, 0o600)
}

func wipe(b []byte) { clear(b) }

func vaultCmd() *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "Manage the password-derived encryption vault",
		Commands: []*cli.Command{
			vaultInitCmd(),
			vaultVerifyCmd(),
			vaultEncryptCmd(),
			vaultDecryptCmd(),
		},
	}
}

func vaultInitCmd() *cli.Command {
	var v vaultFlags
	return &cli.Command{
		Name:  "init",
		Usage: "Create the password check for a new vault",
		Flags: v.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vt, err := v.open(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer vt.Close()
			pw, err := v.password()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer wipe(pw)
			if err := vt.Initialize(pw); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			logger.FromContext(ctx).Info("vault initialized")
			return nil
		},
	}
}

func vaultVerifyCmd() *cli.Command {
	var v vaultFlags
	return &cli.Command{
		Name:  "verify",
		Usage: "Check a password against the vault",
		Flags: v.flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vt, err := v.unlock(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer vt.Close()
			ok, err := vt.Verify()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if !ok {
				return cli.Exit("error: vault check failed", 1)
			}
			_, _ = fmt.Fprintln(stdout, "ok")
			return nil
		},
	}
}

func vaultEncryptCmd() *cli.Command {
	var v vaultFlags
	return &cli.Command{
		Name:  "encrypt",
		Usage: "Encrypt input and write it base64 encoded",
		Flags: append(v.flags(), v.ioFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vt, err := v.unlock(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer vt.Close()
			plain, err := v.input()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}
			defer wipe(plain)
			sealed, err := vt.Encrypt(plain)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			enc := base64.StdEncoding.EncodeToString(sealed)
			return v.output([]byte(enc + "\n"))
		},
	}
}

func vaultDecryptCmd() *cli.Command {
	var v vaultFlags
	return &cli.Command{
		Name:  "decrypt",
		Usage: "Decrypt base64 input produced by encrypt",
		Flags: append(v.flags(), v.ioFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vt, err := v.unlock(ctx)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer vt.Close()
			in, err := v.input()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}
			sealed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(in)))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode input: %v", err), 1)
			}
			plain, err := vt.Decrypt(sealed)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer wipe(plain)
			return v.output(plain)
		},
	}
}
