package signup

// ========================================
// Request DTOs
// ========================================

// SubmitRequest leaves email optional so an empty address reaches the flow
// and gets the same notification as the page would show.
type SubmitRequest struct {
	Email         string `json:"email" binding:"omitempty,max=320"`
	TwitterHandle string `json:"twitter_handle" binding:"omitempty,max=100"`
}

type FormVisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type PasscodeRequest struct {
	FlowID string `json:"flow_id" binding:"required,uuid"`
	Email  string `json:"email" binding:"omitempty,max=320"`
}

type VerifyPasscodeRequest struct {
	FlowID string `json:"flow_id" binding:"required,uuid"`
	Email  string `json:"email" binding:"omitempty,max=320"`
	Token  string `json:"token" binding:"required,numeric,min=4,max=10"`
}

type OAuthStartRequest struct {
	FlowID         string `json:"flow_id" binding:"required,uuid"`
	RedirectTarget string `json:"redirect_target" binding:"omitempty,max=2048"`
}

// ========================================
// Response DTOs
// ========================================

// FlowResponse pairs the outcome of an action with the resulting flow state.
type FlowResponse struct {
	Flow         Snapshot      `json:"flow"`
	Notification *Notification `json:"notification,omitempty"`
}

type FollowResponse struct {
	FollowURL string   `json:"follow_url"`
	Flow      Snapshot `json:"flow"`
}

type OAuthStartResponse struct {
	RedirectURL string `json:"redirect_url"`
}

func newFlowResponse(f *Flow, n Notification) FlowResponse {
	resp := FlowResponse{Flow: f.Snapshot()}
	if n != (Notification{}) {
		resp.Notification = &n
	}
	return resp
}
