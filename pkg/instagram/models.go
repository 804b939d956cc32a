package instagram

// Profile is the subset of a user profile the pipeline acts on
type Profile struct {
	Username   string
	UserID     string
	FullName   string
	Verified   bool
	Private    bool
	PictureURL string
}

// webProfileResponse is the top-level shape of the web profile endpoint
type webProfileResponse struct {
	RequiresToLogin bool        `json:"requires_to_login"`
	Data            profileData `json:"data"`
	Status          string      `json:"status"`
}

type profileData struct {
	User *profileUser `json:"user"`
}

type profileUser struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	IsVerified      bool   `json:"is_verified"`
	IsPrivate       bool   `json:"is_private"`
	ProfilePicURL   string `json:"profile_pic_url"`
	ProfilePicURLHD string `json:"profile_pic_url_hd"`
}

// loginResponse is the shape of the login endpoint's JSON reply
type loginResponse struct {
	Authenticated     bool          `json:"authenticated"`
	User              bool          `json:"user"`
	UserID            string        `json:"userId"`
	TwoFactorRequired bool          `json:"two_factor_required"`
	TwoFactorInfo     twoFactorInfo `json:"two_factor_info"`
	Message           string        `json:"message"`
	Status            string        `json:"status"`
}

type twoFactorInfo struct {
	Identifier string `json:"two_factor_identifier"`
	Username   string `json:"username"`
}
