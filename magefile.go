//go:build mage
// +build mage

package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/magefile/mage/mg" // mg contains helpful utility functions, like Deps
	"github.com/magefile/mage/sh"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Default target to run when none is specified
var Default = Test

type Pi mg.Namespace

var (
	buildDir   = "bin/pi"
	binName    = "resgraph"
	cliName    = "resgraph-cli"
	configFile = "resgraph.yaml"
)

// remoteDir is where the binaries and config live on the Pi.
func remoteDir(username string) string {
	return "/home/" + username + "/resgraph"
}

// Starts the sampler server on the Raspberry Pi, using SSH. Blocks until it exits.
// The server reads the deployed resgraph.yaml through RESGRAPH_CONFIG.
func (Pi) Start(host string, username string) error {
	mg.Deps(mg.F(Pi.Deploy, host, username))
	client, err := sshClient(username, host)
	if err != nil {
		return fmt.Errorf("failed to create SSH client: %w", err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	fmt.Println("--------------------------------")
	fmt.Println("RUNNING RESGRAPH SAMPLER")
	fmt.Println("--------------------------------")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	dir := remoteDir(username)
	cmd := fmt.Sprintf("cd %s && RESGRAPH_CONFIG=%s/%s ./%s", dir, dir, configFile, binName)
	if err := session.Start(cmd); err != nil {
		return fmt.Errorf("failed to start sampler on host: %w", err)
	}
	// handle signals
	go func() {
		sig := <-sigChan
		fmt.Println("Received signal:", sig)
		session.Signal(ssh.SIGTERM)
		// Give a moment, then force kill if necessary
		<-sigChan
		fmt.Println("Force killing sampler...")
		session.Signal(ssh.SIGKILL)
		session.Close()
		os.Exit(1)
	}()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	err = session.Wait()
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			switch exitErr.ExitStatus() {
			case 143:
				fmt.Println("Sampler exited with SIGTERM")
				return nil
			case 130:
				fmt.Println("Sampler exited with SIGKILL")
				return nil
			default:
				return fmt.Errorf("sampler exited with unexpected status %d", exitErr.ExitStatus())
			}
		}
		return fmt.Errorf("failed to wait for sampler to exit: %w", err)
	}

	return nil
}

// Lists the fixed disks the sampler finds on the Raspberry Pi, using the deployed CLI.
func (Pi) Disks(host string, username string) error {
	mg.Deps(mg.F(Pi.Deploy, host, username))
	client, err := sshClient(username, host)
	if err != nil {
		return fmt.Errorf("failed to create SSH client: %w", err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	session.Stdout = os.Stdout
	session.Stderr = os.Stderr
	dir := remoteDir(username)
	if err := session.Run(fmt.Sprintf("cd %s && ./%s disks -c %s", dir, cliName, configFile)); err != nil {
		return fmt.Errorf("failed to list disks on host: %w", err)
	}
	return nil
}

// Builds and deploys the sampler server, the CLI and resgraph.yaml to the Raspberry Pi, using SSH.
// Assumes you have SSH keys setup for the Raspberry Pi.
func (Pi) Deploy(
	host string,
	username string,
) error {
	mg.Deps(Pi.Build)
	connStr := fmt.Sprintf("%s@%s", username, host)
	deployPath := remoteDir(username)
	fmt.Printf("Copying resgraph via SCP to %s:%s\n", connStr, deployPath)

	// Create the deploy path if it doesn't exist
	err := sh.Run("ssh", connStr, "mkdir -p", deployPath)
	if err != nil {
		return fmt.Errorf("failed to create deploy path on host: %w", err)
	}
	for _, name := range []string{binName, cliName} {
		if err := scp(filepath.Join(buildDir, name), connStr, deployPath); err != nil {
			return fmt.Errorf("failed to deploy %s to host: %w", name, err)
		}
	}
	// Without a config the server falls back to its defaults.
	if _, err := os.Stat(configFile); err == nil {
		if err := scp(configFile, connStr, deployPath); err != nil {
			return fmt.Errorf("failed to deploy config to host: %w", err)
		}
	}
	return nil
}

func scp(local, connStr, deployPath string) error {
	return sh.Run("scp", local, fmt.Sprintf("%s:%s/%s", connStr, deployPath, filepath.Base(local)))
}

// Runs the unit tests with the race detector
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Builds the sampler CLI for the host
func Cli() error {
	return sh.RunV("go", "build", "-o", filepath.Join("bin", "resgraph-cli"), "./cmd/cli")
}

// Builds the sampler server and CLI for the Raspberry Pi (linux/arm64)
func (Pi) Build() error {
	fmt.Println("Building...")
	env := map[string]string{
		"GOOS":   "linux",
		"GOARCH": "arm64",
	}
	if err := sh.RunWithV(env, "go", "build", "-o", filepath.Join(buildDir, binName), "./cmd/server.go"); err != nil {
		return err
	}
	return sh.RunWithV(env, "go", "build", "-o", filepath.Join(buildDir, cliName), "./cmd/cli")
}

// Cleans up the build directory
func (Pi) Clean() {
	fmt.Println("Cleaning...")
	os.RemoveAll(buildDir)
}

func sshClient(user, host string) (*ssh.Client, error) {

	var authMethods []ssh.AuthMethod

	// Try to connect to SSH agent
	conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
	if err == nil {
		agent := agent.NewClient(conn)
		signers, err := agent.Signers()
		if err == nil {
			signers = preferRSASHA2(signers)
			authMethods = append(authMethods, ssh.PublicKeys(signers...))
		}
	}

	if len(authMethods) == 0 {
		fmt.Println("No SSH keys found...")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Dev only.
	}
	addr := host + ":22"
	fmt.Println("Dialing SSH client to", addr)
	return ssh.Dial("tcp", addr, config)
}

func preferRSASHA2(signers []ssh.Signer) []ssh.Signer {
	var out []ssh.Signer
	for _, signer := range signers {
		if signer.PublicKey().Type() == ssh.KeyAlgoRSA {
			if algSigner, ok := signer.(ssh.AlgorithmSigner); ok {
				if mas, err := ssh.NewSignerWithAlgorithms(
					algSigner,
					[]string{
						ssh.KeyAlgoRSASHA256,
						ssh.KeyAlgoRSASHA512,
						ssh.KeyAlgoRSA,
					},
				); err == nil {
					out = append(out, mas)
					continue
				}
			}
		}
		out = append(out, signer)
	}
	return out
}
