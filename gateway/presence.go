package gateway

type ActivityType int

const (
	ActivityTypePlaying   ActivityType = 0
	ActivityTypeStreaming ActivityType = 1
	ActivityTypeListening ActivityType = 2
	ActivityTypeWatching  ActivityType = 3
)

type Activity struct {
	Name string       `json:"name"`
	Type ActivityType `json:"type"`
	Url  *string      `json:"url"`
}

// Presence is sent as-is after defaults are applied: status "online", since null, and an
// empty playing activity when none is given.
type Presence struct {
	Since  *int64    `json:"since"`
	Game   *Activity `json:"game"`
	Status string    `json:"status"`
	Afk    bool      `json:"afk"`
}

func BuildStatus(activityType ActivityType, name string) Presence {
	return Presence{
		Game: &Activity{
			Name: name,
			Type: activityType,
		},
	}
}

func (p Presence) withDefaults() Presence {
	if p.Status == "" {
		p.Status = "online"
	}

	if p.Game == nil {
		p.Game = &Activity{}
	}

	return p
}
