package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	inputFile = os.Stdin
)

func guidedInitialization(config *Config) error {
	scanner := bufio.NewScanner(inputFile)

	input, err := ask(scanner, fmt.Sprintf("Enter default snapshot message [default: %s]", config.DefaultMessage))
	if err != nil {
		return err
	}
	if input != "" {
		config.DefaultMessage = input
	}

	input, err = ask(
		scanner,
		fmt.Sprintf("Enter restore policy (%s, %s) [default: %s]", RestoreAbort, RestoreContinue, config.RestorePolicy),
	)
	if err != nil {
		return err
	}
	if input != "" {
		policy := RestorePolicy(input)
		if err = policy.Validate(); err != nil {
			return err
		}
		config.RestorePolicy = policy
	}

	input, err = ask(scanner, fmt.Sprintf("Enter watch settle time (e.g. 2s, 1m) [default: %s]", config.WatchSettle))
	if err != nil {
		return err
	}
	if input != "" {
		duration, err := time.ParseDuration(input)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		config.WatchSettle = duration
	}

	input, err = ask(scanner, "Enter comma separated ignore patterns [default: none]")
	if err != nil {
		return err
	}
	for _, p := range strings.Split(input, ",") {
		if p = strings.TrimSpace(p); p != "" {
			config.Ignore = append(config.Ignore, p)
		}
	}

	return nil
}

func ask(scanner *bufio.Scanner, prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("could not read user input: %w", err)
		}
		return "", nil // EOF or closed input
	}
	return strings.TrimSpace(scanner.Text()), nil
}
