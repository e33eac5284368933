package users

type (
	// Actor identifies the source of an IRC event (nick!user@host).
	Actor struct {
		Nick string
		User string
		Host string
	}

	// Record holds what WHO replies told us about a user.
	Record struct {
		Nick     string
		User     string
		Host     string
		Account  string
		Realname string
		Away     bool
		Oper     bool
	}
)
