package signup

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Variant string

const (
	VariantInfo        Variant = "info"
	VariantSuccess     Variant = "success"
	VariantDestructive Variant = "destructive"
)

// Notification is the toast shown to the visitor for one outcome.
type Notification struct {
	Variant     Variant `json:"variant"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

var (
	notifyEmailRequired = Notification{
		Variant:     VariantDestructive,
		Title:       "Email required",
		Description: "Please enter your email address.",
	}
	notifyFollowRequired = Notification{
		Variant:     VariantDestructive,
		Title:       "Follow required",
		Description: "Please follow us on Twitter first.",
	}
	notifyDomainNotAllowed = Notification{
		Variant:     VariantDestructive,
		Title:       "Email not allowed",
		Description: "Please use an address from a major email provider such as Gmail, Outlook or Yahoo.",
	}
	notifyEmailInvalid = Notification{
		Variant:     VariantDestructive,
		Title:       "Invalid email",
		Description: "Please enter a valid email address.",
	}
	notifyAlreadyRegistered = Notification{
		Variant:     VariantDestructive,
		Title:       "Already registered",
		Description: "This email is already on our waitlist!",
	}
	notifySubmitted = Notification{
		Variant:     VariantSuccess,
		Title:       "Success!",
		Description: "You've been added to our waitlist.",
	}
	notifyGenericError = Notification{
		Variant:     VariantDestructive,
		Title:       "Error",
		Description: "Something went wrong. Please try again.",
	}
	notifyInvalidPasscode = Notification{
		Variant:     VariantDestructive,
		Title:       "Invalid code",
		Description: "That code is invalid or has expired.",
	}
)

func notifyPasscodeSent(email string) Notification {
	return Notification{
		Variant:     VariantInfo,
		Title:       "Check your email",
		Description: fmt.Sprintf("We sent a sign-in code to %s.", email),
	}
}

func notifySignedIn(email string) Notification {
	return Notification{
		Variant:     VariantSuccess,
		Title:       "Signed in",
		Description: fmt.Sprintf("You're signed in as %s.", email),
	}
}

func notifyRedirecting(provider string) Notification {
	return Notification{
		Variant:     VariantInfo,
		Title:       "Redirecting",
		Description: fmt.Sprintf("Continue signing in with %s.", providerDisplayName(provider)),
	}
}

var providerNames = map[string]string{
	"github": "GitHub",
	"x":      "X",
}

func providerDisplayName(provider string) string {
	if name, ok := providerNames[provider]; ok {
		return name
	}
	return cases.Title(language.English).String(provider)
}
