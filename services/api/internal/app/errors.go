package app

import "errors"

var (
	ErrEmailAndPasswordRequired = errors.New("email and password required")

	// ErrUserAlreadyExists is returned on register when the lower-cased email is taken.
	ErrUserAlreadyExists = errors.New("an account with this email already exists")

	// ErrInvalidCredentials covers unknown email, wrong password and disabled
	// accounts alike so that callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("incorrect email or password")

	ErrInvalidPDFFileType = errors.New("invalid file type, only application/pdf is accepted")
	ErrPDFNotFound        = errors.New("pdf not found")
	ErrPDFAlreadyParsing  = errors.New("pdf is already being parsed or has been parsed")
	ErrPDFNotParsed       = errors.New("pdf must be parsed successfully before it can be selected")
	ErrSelectionFailed    = errors.New("pdf changed during selection, try again")

	ErrNoPDFSelected       = errors.New("no pdf selected for chat, select a pdf first")
	ErrPDFNotParsedForChat = errors.New("selected pdf has not been parsed successfully")
	ErrTurnNotPersisted    = errors.New("chat turn was not persisted")
)

var ErrInvalidMessage = errors.New("message must be between 1 and 4000 characters")
