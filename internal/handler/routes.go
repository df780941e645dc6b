package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the API under the given group
func RegisterRoutes(v1 *gin.RouterGroup, imports *ImportHandler, mappings *MappingHandler, sessions *SessionHandler) {
	importRoutes := v1.Group("/imports")
	{
		importRoutes.POST("", imports.StartImport)
		importRoutes.GET("/:id", imports.GetImport)
		importRoutes.POST("/:id/cancel", imports.CancelImport)
		importRoutes.POST("/:id/retry", imports.RetryImport)
		importRoutes.POST("/:id/mappings", imports.ResolveMapping)
	}

	mappingRoutes := v1.Group("/mappings")
	{
		mappingRoutes.POST("", mappings.SaveMapping)
		mappingRoutes.GET("/resolve", mappings.ResolveMapping)
		mappingRoutes.GET("/suggestions", mappings.SuggestMappings)
	}

	sessionRoutes := v1.Group("/sessions")
	{
		sessionRoutes.POST("", sessions.OpenSession)
		sessionRoutes.GET("/:id", sessions.GetSession)
		sessionRoutes.POST("/:id/advance", sessions.Advance)
		sessionRoutes.POST("/:id/close", sessions.CloseSession)
		sessionRoutes.POST("/:id/matches/accept", sessions.AcceptMatch)
		sessionRoutes.POST("/:id/matches/reject", sessions.RejectMatch)
		sessionRoutes.POST("/:id/items/:account_id/accept-variance", sessions.AcceptVariance)
		sessionRoutes.GET("/:id/export", sessions.ExportSession)
	}
}
