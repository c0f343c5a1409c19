package model

// Timestamps are Unix milliseconds so they match what browser clients send
// and compare against.

type Device struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     DeviceType `json:"type"`
	JoinedAt int64      `json:"joinedAt"`
	LastSeen int64      `json:"lastSeen"`
}

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Devices      []*Device `json:"devices"`
	CreatedAt    int64     `json:"createdAt"`
	LastActivity int64     `json:"lastActivity"`
}

func (r *Room) FindDevice(id string) *Device {
	for _, d := range r.Devices {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// RemoveDevice drops the device with the given id and reports whether it
// was present.
func (r *Room) RemoveDevice(id string) bool {
	for i, d := range r.Devices {
		if d.ID == id {
			r.Devices = append(r.Devices[:i], r.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveDevicesNamed drops every device with the given name.
func (r *Room) RemoveDevicesNamed(name string) []*Device {
	var removed []*Device
	kept := r.Devices[:0]
	for _, d := range r.Devices {
		if d.Name == name {
			removed = append(removed, d)
			continue
		}
		kept = append(kept, d)
	}
	r.Devices = kept
	return removed
}

func (r *Room) Empty() bool {
	return len(r.Devices) == 0
}
