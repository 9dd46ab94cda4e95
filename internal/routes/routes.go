package routes

import (
	"net/http"
	"strings"

	"github.com/flowerwine/filebounty-backend/internal/auth"
	"github.com/flowerwine/filebounty-backend/internal/handlers"
	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/flowerwine/filebounty-backend/internal/middleware"
	"github.com/flowerwine/filebounty-backend/internal/realtime"
	"github.com/go-chi/chi/v5"
)

// TusBasePath is where the resumable upload endpoint is mounted.
const TusBasePath = "/api/files/upload/"

// Deps carries everything the router dispatches to.
type Deps struct {
	Tokens *auth.Manager

	Users     *handlers.UserHandler
	Captcha   *handlers.CaptchaHandler
	Points    *handlers.PointsHandler
	Bounty    *handlers.BountyHandler
	Resources *handlers.ResourceHandler
	Files     *handlers.FileHandler
	Messages  *handlers.MessageHandler
	AdminAuth *handlers.AdminAuthHandler
	Realtime  *realtime.Handler
	Tus       http.Handler

	// Avatars stored locally are served from PublicDir under UploadURLPrefix.
	UploadURLPrefix string
	PublicDir       string
}

func SetupRoutes(r chi.Router, d Deps) {
	requireUser := middleware.RequireUser(d.Tokens)
	optionalUser := middleware.OptionalUser(d.Tokens)
	requireAdmin := middleware.RequireAdmin(d.Tokens)

	r.Get("/health", handlers.Health)
	r.Handle("/metrics", metrics.Handler())

	// STOMP over raw WebSocket and the SockJS websocket transport
	r.Get("/ws", d.Realtime.ServeWS)
	r.Get("/ws/info", d.Realtime.Info)
	r.Get("/ws/{server}/{session}/websocket", d.Realtime.ServeSockJS)

	if d.PublicDir != "" {
		prefix := strings.TrimRight(d.UploadURLPrefix, "/")
		r.Handle(prefix+"/avatars/*", http.StripPrefix(prefix, http.FileServer(http.Dir(d.PublicDir))))
	}

	r.Route("/api", func(r chi.Router) {
		// Anonymous or signed-in
		r.Group(func(r chi.Router) {
			r.Use(optionalUser)

			r.Post("/user/register", d.Users.Register)
			r.Post("/user/login", d.Users.Login)
			r.Get("/captcha/generate", d.Captcha.Generate)
			r.Get("/profile/{userId}", d.Users.PublicProfile)
			r.Get("/points/user/{userId}", d.Points.User)
			r.Get("/sign/rewards", d.Points.Rewards)

			r.Get("/bounty/list", d.Bounty.List)
			r.Get("/bounty/latest", d.Bounty.Latest)
			r.Get("/bounty/hot", d.Bounty.Hot)
			r.Get("/bounty/search", d.Bounty.Search)
			r.Get("/bounty/{id}", d.Bounty.Detail)
			r.Get("/bounty/{id}/bids", d.Bounty.Bids)

			r.Get("/user-files/public", d.Resources.Public)
			r.Get("/user-files/free", d.Resources.Free)
			r.Get("/user-files/search", d.Resources.Search)
			r.Get("/user-files/query", d.Resources.Query)
			r.Get("/user-files/latest", d.Resources.Latest)
			r.Get("/user-files/hot", d.Resources.Hot)
			r.Get("/user-files/{id}", d.Resources.Detail)

			r.Get("/files/{id}", d.Files.Info)
			r.Get("/files/{id}/access", d.Files.Access)
			r.Get("/files/download/{id}", d.Files.Download)
		})

		// Signed-in users
		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/user/logout", d.Users.Logout)
			r.Get("/user/current", d.Users.Current)
			r.Post("/user/change-password", d.Users.ChangePassword)
			r.Get("/profile/current", d.Users.Current)
			r.Put("/profile/update", d.Users.UpdateProfile)

			r.Get("/points/my", d.Points.My)
			r.Get("/points/records", d.Points.Records)

			r.Post("/sign/in", d.Points.SignIn)
			r.Get("/sign/calendar", d.Points.Calendar)
			r.Get("/sign/check", d.Points.Check)
			r.Get("/sign/cycle", d.Points.Cycle)

			r.Post("/bounty/publish", d.Bounty.Publish)
			r.Get("/bounty/bounty", d.Bounty.Mine)
			r.Get("/bounty/bids", d.Bounty.MyBids)
			r.Post("/bounty/{id}/close", d.Bounty.Close)
			r.Post("/bounty/{id}/reopen", d.Bounty.Reopen)
			r.Post("/bounty/{id}/winner/{bidId}", d.Bounty.SelectWinner)
			r.Post("/bounty/{id}/bid", d.Bounty.CreateBid)
			r.Put("/bounty/bid/{bidId}/file", d.Bounty.UpdateBidFile)
			r.Get("/bounty/bid/{bidId}/file", d.Bounty.DownloadBidFile)
			r.Delete("/bounty/bid/{bidId}", d.Bounty.CancelBid)

			r.Post("/user-files/create", d.Resources.Create)
			r.Get("/user-files/my", d.Resources.Mine)
			r.Put("/user-files/{id}", d.Resources.Update)
			r.Delete("/user-files/{id}", d.Resources.Delete)
			r.Get("/user-files/{id}/download", d.Resources.Download)

			r.Post("/files/upload/avatar", d.Files.UploadAvatar)
			r.Post("/files/chunk/initialize", d.Files.InitChunk)
			r.Get("/files/chunk/check", d.Files.CheckChunk)
			r.Get("/files/chunk/uploaded/{identifier}", d.Files.UploadedChunks)
			r.Post("/files/chunk/upload", d.Files.UploadChunk)
			r.Post("/files/chunk/merge", d.Files.MergeChunks)
			r.Post("/files/process/{uploadId}", d.Files.ProcessTus)

			r.Get("/messages/system", d.Messages.System)
			r.Get("/messages/system/unread-count", d.Messages.SystemUnread)
			r.Get("/messages/conversations", d.Messages.Conversations)
			r.Get("/messages/conversations/unread-count", d.Messages.PrivateUnread)
			r.Get("/messages/conversations/{conversationId}/messages", d.Messages.ConversationMessages)
			r.Post("/messages/conversations/users/{partnerId}", d.Messages.Open)
			r.Post("/messages/send", d.Messages.Send)
			r.Get("/messages/unread", d.Messages.Unread)
		})

		// tus speaks its own protocol below the base path; only preflight
		// is let through without a token.
		r.With(tusAuth(requireUser)).Handle(TusBasePath[len("/api"):]+"*", http.StripPrefix(TusBasePath, d.Tus))

		r.Post("/admin/auth/login", d.AdminAuth.Login)
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Get("/admin/auth/current", d.AdminAuth.Current)

			r.Get("/admin/user-files/pending", d.Resources.Pending)
			r.Get("/admin/user-files/all", d.Resources.All)
			r.Post("/admin/user-files/review", d.Resources.Review)
			r.Get("/admin/user-files/{id}", d.Resources.AdminGet)
			r.Delete("/admin/user-files/{id}", d.Resources.AdminDelete)
			r.Get("/admin/user-files/{id}/download", d.Resources.AdminDownload)

			r.Post("/admin/messages/send", d.Messages.SendSystem)
			r.Get("/admin/messages/history", d.Messages.SystemHistory)
		})
	})
}

func tusAuth(requireUser func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authed := requireUser(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			authed.ServeHTTP(w, r)
		})
	}
}
