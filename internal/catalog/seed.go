package catalog

// Default returns the built-in EcoTech catalog.
func Default() *Store {
	s, err := New(seedProducts(), seedCustomers())
	if err != nil {
		panic("catalog: invalid seed data: " + err.Error())
	}
	return s
}

func seedProducts() []Product {
	return []Product{
		{ID: "PROD001", Name: "Smartphone EcoTech Pro", Category: Electronics, Price: 299.99, ReturnWindowDays: 30, Returnable: true},
		{ID: "PROD002", Name: "Laptop EcoFriendly", Category: Computers, Price: 899.99, ReturnWindowDays: 15, Returnable: true},
		{ID: "PROD003", Name: "Auriculares Wireless", Category: Audio, Price: 79.99, ReturnWindowDays: 14, Returnable: true},
		{ID: "PROD004", Name: "Tablet EcoPad", Category: Tablets, Price: 199.99, ReturnWindowDays: 7, Returnable: false},
	}
}

func seedCustomers() []Customer {
	return []Customer{
		{ID: "CLI001", Name: "Juan Pérez", Email: "juan@email.com", Tier: "premium"},
		{ID: "CLI002", Name: "María García", Email: "maria@email.com", Tier: "estándar"},
		{ID: "CLI003", Name: "Carlos López", Email: "carlos@email.com", Tier: "premium"},
	}
}
