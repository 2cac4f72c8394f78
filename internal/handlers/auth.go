package handlers

import (
	"log/slog"
	"net/http"
)

type loginPageData struct {
	Email  string
	Error  string
	Notice string
}

type registerPageData struct {
	Name  string
	Email string
	Error string
}

// HandleLogin processes the login form. Failures re-render the form with the
// backend's error message inline; success redirects to the chat page.
func (m Main) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	email := r.FormValue("email")
	password := r.FormValue("password")
	if email == "" || password == "" {
		m.renderLogin(w, loginPageData{
			Email: email,
			Error: "Email and password are required",
		})
		return
	}

	if err := m.session.Login(r.Context(), email, password); err != nil {
		m.logger.Info("Login rejected",
			slog.String("email", email),
			slog.String(errLoggerKey, err.Error()))
		m.renderLogin(w, loginPageData{Email: email, Error: err.Error()})
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleRegister renders the registration form on GET and processes it on
// POST. Registration does not sign the user in; on success the login page is
// shown with a notice.
func (m Main) HandleRegister(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.renderRegister(w, registerPageData{})
	case http.MethodPost:
		name := r.FormValue("name")
		email := r.FormValue("email")
		password := r.FormValue("password")
		if name == "" || email == "" || password == "" {
			m.renderRegister(w, registerPageData{
				Name:  name,
				Email: email,
				Error: "All fields are required",
			})
			return
		}

		if _, err := m.session.Register(r.Context(), name, email, password); err != nil {
			m.logger.Info("Registration rejected",
				slog.String("email", email),
				slog.String(errLoggerKey, err.Error()))
			m.renderRegister(w, registerPageData{Name: name, Email: email, Error: err.Error()})
			return
		}

		m.renderLogin(w, loginPageData{
			Email:  email,
			Notice: "Account created, you can sign in now",
		})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleLogout clears the session and returns to the login page.
func (m Main) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.session.Logout()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m Main) renderLogin(w http.ResponseWriter, data loginPageData) {
	if err := m.templates.ExecuteTemplate(w, "login.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) renderRegister(w http.ResponseWriter, data registerPageData) {
	if err := m.templates.ExecuteTemplate(w, "register.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
