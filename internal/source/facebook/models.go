package facebook

// Graph API wire shapes. Only the fields requested in the source's field
// selectors are populated.

type apiProfile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   *string `json:"email"`
	Picture *struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

type apiPost struct {
	ID           string  `json:"id"`
	Message      *string `json:"message"`
	Story        *string `json:"story"`
	Type         string  `json:"type"`
	StatusType   string  `json:"status_type"`
	CreatedTime  string  `json:"created_time"`
	Link         *string `json:"link"`
	PermalinkURL *string `json:"permalink_url"`
	Picture      *string `json:"picture"`
	FullPicture  *string `json:"full_picture"`
	Name         *string `json:"name"`
}

type apiComment struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
	From        *struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"from"`
	LikeCount int `json:"like_count"`
}
