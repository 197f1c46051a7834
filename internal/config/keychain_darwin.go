//go:build darwin

package config

import "os/exec"

// keychainExec reads the sync API key from the macOS Keychain via the
// `security` tool. A missing item surfaces as a non-zero exit, which the
// caller treats as "no key stored".
func keychainExec(service, account string) ([]byte, error) {
	return exec.Command(
		"security", "find-generic-password",
		"-s", service,
		"-a", account,
		"-w",
	).Output()
}
