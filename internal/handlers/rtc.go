package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RTCConfig returns the ICE server list clients feed to their
// RTCPeerConnection. The relay itself never touches ICE; this is plain
// configuration handout.
func (a *API) RTCConfig(c *gin.Context) {
	iceServers := make([]gin.H, 0, len(a.RTC.STUNServers)+1)
	for _, stun := range a.RTC.STUNServers {
		if stun == "" {
			continue
		}
		iceServers = append(iceServers, gin.H{"urls": stun})
	}
	if a.RTC.TURNURI != "" && a.RTC.TURNUsername != "" && a.RTC.TURNPassword != "" {
		iceServers = append(iceServers, gin.H{
			"urls":       a.RTC.TURNURI,
			"username":   a.RTC.TURNUsername,
			"credential": a.RTC.TURNPassword,
		})
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": iceServers})
}
