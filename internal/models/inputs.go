package models

import "strconv"

// CreatePostInput carries the scalar form fields for the multipart post-create
// request. Images travel separately as prepared uploads.
type CreatePostInput struct {
	PetName      string
	Species      string
	Breed        string
	Age          float64
	Gender       string
	Weight       float64
	Color        string
	Description  string
	LocationName string
	ContactPhone string
	Latitude     float64
	Longitude    float64
	Status       string
}

// FormFields renders the input as multipart form fields, keyed the way the
// backend expects them.
func (in CreatePostInput) FormFields() map[string]string {
	status := in.Status
	if status == "" {
		status = StatusLost
	}
	return map[string]string{
		"pet_name":      in.PetName,
		"pet_species":   in.Species,
		"pet_breed":     in.Breed,
		"age":           strconv.FormatFloat(in.Age, 'f', -1, 64),
		"gender":        in.Gender,
		"weight":        strconv.FormatFloat(in.Weight, 'f', -1, 64),
		"color":         in.Color,
		"description":   in.Description,
		"location_name": in.LocationName,
		"contact_phone": in.ContactPhone,
		"latitude":      strconv.FormatFloat(in.Latitude, 'f', -1, 64),
		"longitude":     strconv.FormatFloat(in.Longitude, 'f', -1, 64),
		"status":        status,
	}
}

// UpdateProfileInput carries the profile PATCH fields. Only non-nil fields are
// sent, so an untouched field is never overwritten server-side.
type UpdateProfileInput struct {
	Name  *string
	Phone *string
}

// FormFields renders only the provided fields.
func (in UpdateProfileInput) FormFields() map[string]string {
	fields := make(map[string]string)
	if in.Name != nil {
		fields["name"] = *in.Name
	}
	if in.Phone != nil {
		fields["phone"] = *in.Phone
	}
	return fields
}
