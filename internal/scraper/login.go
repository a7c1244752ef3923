package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/config"
)

const (
	formSelector  = "form"
	inputSelector = "input"
)

// Login opens url, takes the first form on the page and guesses its username
// and password inputs from their name attributes: the first input whose
// lowercased name contains "user" is the username, the first containing
// "pass" is the password. The password is followed by Enter, which submits.
//
// Any session failure is returned as is. Nothing is retried and nothing
// already typed is undone.
func Login(ctx context.Context, session browser.Session, url string, creds config.Credentials) error {
	if err := session.Navigate(ctx, url); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	form, err := session.FindElement(ctx, formSelector)
	if err != nil {
		return fmt.Errorf("failed to find login form: %w", err)
	}

	inputs, err := form.FindAllElements(ctx, inputSelector)
	if err != nil {
		return fmt.Errorf("failed to list form inputs: %w", err)
	}

	var userInput, passInput browser.Element
	for _, input := range inputs {
		if userInput != nil && passInput != nil {
			break
		}

		name, _, err := input.Property(ctx, "name")
		if err != nil {
			return fmt.Errorf("failed to read input name: %w", err)
		}
		name = strings.ToLower(name)

		if userInput == nil && strings.Contains(name, "user") {
			userInput = input
		} else if passInput == nil && strings.Contains(name, "pass") {
			passInput = input
		}
	}

	if userInput == nil {
		return &InvalidArgumentError{Field: "user_input", Msg: "no input with a name containing \"user\" in the login form"}
	}
	if passInput == nil {
		return &InvalidArgumentError{Field: "passwd_input", Msg: "no input with a name containing \"pass\" in the login form"}
	}

	if err := userInput.SendKeys(ctx, creds.Username); err != nil {
		return fmt.Errorf("failed to type username: %w", err)
	}
	if err := passInput.SendKeys(ctx, creds.Password+"\n"); err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}

	return nil
}
