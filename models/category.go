package models

// Category is a fixed campaign category.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var categories = []Category{
	{ID: "infrastructure", Name: "Infrastructure", Description: "Classrooms, toilets, water and building repairs"},
	{ID: "learning_materials", Name: "Learning Materials", Description: "Books, stationery and teaching aids"},
	{ID: "technology", Name: "Technology", Description: "Computers, tablets, connectivity and labs"},
	{ID: "sports", Name: "Sports & Recreation", Description: "Equipment, uniforms and playing fields"},
	{ID: "health_nutrition", Name: "Health & Nutrition", Description: "Meals, sanitary supplies and first aid"},
	{ID: "scholarships", Name: "Scholarships", Description: "Fees and support for individual students"},
}

// Categories returns a copy of the registry.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func CategoryIDs() []string {
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	return ids
}

func CategoryByID(id string) (Category, bool) {
	for _, c := range categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

func IsValidCategory(id string) bool {
	_, ok := CategoryByID(id)
	return ok
}
