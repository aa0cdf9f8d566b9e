package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"library-service/library"
)

const dateLayout = "2006-01-02"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createBookResponse struct {
	Message  string        `json:"message"`
	Username string        `json:"username"`
	Book     *library.Book `json:"book"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in library.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := s.mgr.Register(r.Context(), in); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, message{Message: "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.mgr.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Logout(r.Context(), identityFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Successfully logged out"})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var nb library.NewBook
	if err := decodeJSON(w, r, &nb); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	book, admin, err := s.mgr.CreateBook(r.Context(), nb, identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookResponse{
		Message:  "Book created successfully",
		Username: admin.Name,
		Book:     book,
	})
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	books, err := s.mgr.ListBooks(r.Context(), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(books))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	book, err := s.mgr.GetBook(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParams(w, r)
	if !ok {
		return
	}
	books, err := s.mgr.ListBorrowedBooks(r.Context(), identityFrom(r.Context()), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(books))
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if _, err := s.mgr.BorrowBook(r.Context(), id, identityFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Book borrowed successfully"})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if _, err := s.mgr.ReturnBook(r.Context(), id, identityFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Book returned successfully"})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}
	if err := s.mgr.DeleteBook(r.Context(), id, identityFrom(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Book deleted successfully"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := library.HistoryFilter{
		Email:     q.Get("email"),
		BookTitle: q.Get("book_title"),
		Type:      library.HistoryType(q.Get("type")),
	}
	if raw := q.Get("date"); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		filter.Date = &day
	}

	entries, err := s.mgr.QueryHistory(r.Context(), filter, identityFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// ------------------ Parameter helpers ------------------

func bookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil || id <= 0 {
		errorJSON(w, http.StatusBadRequest, "invalid book id")
		return 0, false
	}
	return id, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (library.Page, bool) {
	var page library.Page
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"skip", &page.Skip}, {"limit", &page.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, p.name+" must be an integer")
			return page, false
		}
		*p.dst = n
	}
	return page, true
}

// nonNil keeps empty listings encoded as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
