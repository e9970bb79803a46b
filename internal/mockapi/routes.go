package mockapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/animalplace/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type sessionPayload struct {
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	User         Account `json:"user"`
}

func (server *Server) mountAuthRoutes(router gin.IRouter) {
	router.POST("/api/auth/register", func(contextGin *gin.Context) {
		var inbound struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" || inbound.Password == "" {
			fail(contextGin, http.StatusBadRequest, "invalid_json", "Email and password are required")
			return
		}
		account, err := server.accounts.Register(inbound.Name, inbound.Email, inbound.Password, RoleAdmin, false)
		if errors.Is(err, ErrAccountExists) {
			fail(contextGin, http.StatusConflict, "account_exists", "An account with this email already exists")
			return
		}
		if err != nil {
			fail(contextGin, http.StatusInternalServerError, "register_failed", "Could not create account")
			return
		}
		if !server.sendCode(contextGin, account.Email) {
			return
		}
		respond(contextGin, http.StatusCreated, gin.H{"email": account.Email})
	})

	router.POST("/api/auth/login", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			fail(contextGin, http.StatusBadRequest, "invalid_json", "Email and password are required")
			return
		}
		account, err := server.accounts.Authenticate(inbound.Email, inbound.Password)
		if errors.Is(err, ErrAccountUnverified) {
			server.metrics.Increment(metricLoginFailed)
			if !server.sendCode(contextGin, account.Email) {
				return
			}
			fail(contextGin, http.StatusForbidden, "email_unverified", "Please verify your email. A new code has been sent.")
			return
		}
		if err != nil {
			server.metrics.Increment(metricLoginFailed)
			fail(contextGin, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
			return
		}
		server.metrics.Increment(metricLoginSucceeded)
		server.writeSession(contextGin, account, "")
	})

	router.POST("/api/auth/verify-code", func(contextGin *gin.Context) {
		var inbound struct {
			Email string `json:"email"`
			Code  string `json:"code"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil {
			fail(contextGin, http.StatusBadRequest, "invalid_json", "Email and code are required")
			return
		}
		if err := server.codes.Consume(inbound.Email, inbound.Code); err != nil {
			message := "Invalid verification code"
			if errors.Is(err, ErrCodeExpired) {
				message = "Verification code expired"
			}
			fail(contextGin, http.StatusBadRequest, "invalid_code", message)
			return
		}
		account, err := server.accounts.MarkVerified(inbound.Email)
		if err != nil {
			fail(contextGin, http.StatusNotFound, "account_not_found", "Account not found")
			return
		}
		server.metrics.Increment(metricCodeVerified)
		server.writeSession(contextGin, account, "")
	})

	router.POST("/api/auth/refresh-token", func(contextGin *gin.Context) {
		var inbound struct {
			RefreshToken string `json:"refreshToken"`
			UserID       string `json:"userId"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.RefreshToken) == "" {
			server.rejectRefresh(contextGin, "missing refresh token")
			return
		}
		userID, currentTokenID, _, err := server.refreshTokens.Validate(contextGin, inbound.RefreshToken)
		if err != nil {
			server.rejectRefresh(contextGin, err.Error())
			return
		}
		if inbound.UserID != "" && inbound.UserID != userID {
			server.rejectRefresh(contextGin, "user mismatch")
			return
		}
		account, err := server.accounts.ByID(userID)
		if err != nil {
			server.rejectRefresh(contextGin, err.Error())
			return
		}
		if revokeErr := server.refreshTokens.Revoke(contextGin, currentTokenID); revokeErr != nil {
			server.rejectRefresh(contextGin, revokeErr.Error())
			return
		}
		token, refreshOpaque, issueErr := server.issueSession(contextGin, account, currentTokenID)
		if issueErr != nil {
			fail(contextGin, http.StatusInternalServerError, "refresh_failed", "Could not refresh session")
			return
		}
		server.metrics.Increment(metricRefreshRotated)
		respond(contextGin, http.StatusOK, gin.H{"token": token, "refreshToken": refreshOpaque})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		if claims, err := server.validator.Authenticate(contextGin.Request); err == nil {
			revoked := server.refreshTokens.RevokeUser(contextGin, claims.UserID())
			server.logger.Info("signed out",
				zap.String("code", "mockapi.logout"),
				zap.String("user_id", claims.UserID()),
				zap.Int("revoked", revoked))
		}
		server.metrics.Increment(metricLogout)
		respond(contextGin, http.StatusOK, nil)
	})
}

func (server *Server) handleSession(contextGin *gin.Context) {
	claims := claimsFrom(contextGin)
	account, err := server.accounts.ByID(claims.UserID())
	if err != nil {
		respond(contextGin, http.StatusOK, gin.H{"authenticated": false})
		return
	}
	respond(contextGin, http.StatusOK, gin.H{"authenticated": true, "user": account})
}

func (server *Server) issueSession(ctx context.Context, account Account, previousTokenID string) (string, string, error) {
	token, _, err := MintAccessToken(server.config.Clock, account, server.config.Issuer, server.config.SigningKey, server.config.AccessTTL)
	if err != nil {
		return "", "", err
	}
	expiresUnix := server.config.Clock.Now().Add(server.config.RefreshTTL).Unix()
	_, refreshOpaque, err := server.refreshTokens.Issue(ctx, account.ID, expiresUnix, previousTokenID)
	if err != nil {
		return "", "", err
	}
	return token, refreshOpaque, nil
}

func (server *Server) writeSession(contextGin *gin.Context, account Account, previousTokenID string) {
	token, refreshOpaque, err := server.issueSession(contextGin, account, previousTokenID)
	if err != nil {
		server.logger.Error("session issue failed",
			zap.String("code", "mockapi.session.issue_failed"),
			zap.Error(err))
		fail(contextGin, http.StatusInternalServerError, "session_failed", "Could not start session")
		return
	}
	respond(contextGin, http.StatusOK, sessionPayload{Token: token, RefreshToken: refreshOpaque, User: account})
}

func (server *Server) rejectRefresh(contextGin *gin.Context, reason string) {
	server.metrics.Increment(metricRefreshRejected)
	server.logger.Info("refresh rejected",
		zap.String("code", "mockapi.refresh.rejected"),
		zap.String("reason", reason))
	fail(contextGin, http.StatusUnauthorized, "refresh_rejected", "Session expired. Please sign in again.")
}

func (server *Server) sendCode(contextGin *gin.Context, email string) bool {
	code, err := server.codes.Issue(email)
	if err != nil {
		fail(contextGin, http.StatusInternalServerError, "code_failed", "Could not issue verification code")
		return false
	}
	server.codeSink(email, code)
	return true
}

func (server *Server) mountCollection(router gin.IRouter, collection *Collection) {
	basePath := "/" + collection.spec.Name
	itemPath := basePath + "/:id"

	router.GET(basePath, func(contextGin *gin.Context) {
		page, _ := strconv.Atoi(contextGin.Query("page"))
		limit, _ := strconv.Atoi(contextGin.Query("limit"))
		respond(contextGin, http.StatusOK, collection.List(ListQuery{
			Page:   page,
			Limit:  limit,
			Search: contextGin.Query("search"),
			Status: contextGin.Query("status"),
		}))
	})
	router.GET(itemPath, func(contextGin *gin.Context) {
		document, err := collection.Get(contextGin.Param("id"))
		if err != nil {
			writeCollectionError(contextGin, collection, err)
			return
		}
		respond(contextGin, http.StatusOK, document)
	})
	router.POST(basePath, func(contextGin *gin.Context) {
		var input Document
		if err := contextGin.ShouldBindJSON(&input); err != nil {
			fail(contextGin, http.StatusBadRequest, "invalid_json", "Request body must be a JSON object")
			return
		}
		document, err := collection.Create(input)
		if err != nil {
			writeCollectionError(contextGin, collection, err)
			return
		}
		respond(contextGin, http.StatusCreated, document)
	})
	update := func(contextGin *gin.Context) {
		var changes Document
		if err := contextGin.ShouldBindJSON(&changes); err != nil {
			fail(contextGin, http.StatusBadRequest, "invalid_json", "Request body must be a JSON object")
			return
		}
		document, err := collection.Update(contextGin.Param("id"), changes)
		if err != nil {
			writeCollectionError(contextGin, collection, err)
			return
		}
		respond(contextGin, http.StatusOK, document)
	}
	router.PATCH(itemPath, update)
	router.PUT(itemPath, update)
	router.DELETE(itemPath, func(contextGin *gin.Context) {
		if err := collection.Delete(contextGin.Param("id")); err != nil {
			writeCollectionError(contextGin, collection, err)
			return
		}
		respond(contextGin, http.StatusOK, nil)
	})
}

func writeCollectionError(contextGin *gin.Context, collection *Collection, err error) {
	var duplicate *DuplicateError
	switch {
	case errors.As(err, &duplicate):
		fail(contextGin, http.StatusConflict, "duplicate", duplicate.Message)
	case errors.Is(err, ErrDocumentNotFound):
		fail(contextGin, http.StatusNotFound, "not_found", collection.spec.Label+" not found")
	case errors.Is(err, ErrMissingUniqueField):
		fail(contextGin, http.StatusBadRequest, "missing_field", collection.spec.UniqueField+" is required")
	default:
		fail(contextGin, http.StatusInternalServerError, "internal", "Something went wrong")
	}
}

func (server *Server) handleReportUpload(contextGin *gin.Context) {
	reports := server.collections["reports"]
	if reports == nil {
		fail(contextGin, http.StatusNotFound, "not_found", "Reports are not enabled")
		return
	}
	form, err := contextGin.MultipartForm()
	if err != nil {
		fail(contextGin, http.StatusBadRequest, "invalid_multipart", "Upload must be multipart/form-data")
		return
	}
	reportIDs := form.Value["reportId"]
	if len(reportIDs) == 0 || strings.TrimSpace(reportIDs[0]) == "" {
		fail(contextGin, http.StatusBadRequest, "missing_field", "reportId is required")
		return
	}
	var names []string
	for _, headers := range form.File {
		for _, header := range headers {
			names = append(names, header.Filename)
		}
	}
	if len(names) == 0 {
		fail(contextGin, http.StatusBadRequest, "missing_file", "At least one file is required")
		return
	}
	document, err := reports.AppendAttachments(reportIDs[0], names)
	if err != nil {
		writeCollectionError(contextGin, reports, err)
		return
	}
	server.metrics.Increment(metricUploadReceived)
	respond(contextGin, http.StatusOK, document)
}

func claimsFrom(contextGin *gin.Context) *sessionvalidator.Claims {
	return sessionvalidator.ClaimsFrom(contextGin, claimsContextKey)
}
