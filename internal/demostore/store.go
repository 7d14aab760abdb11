package demostore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

const (
	adminUsername = "admin"
	adminPassword = "admin"
	tokenLifetime = time.Hour
)

// Category is a product category.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Product is a store item. CategoryID is a string, as the real API
// returns it.
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Price       float64 `json:"price"`
	CategoryID  string  `json:"categoryId"`
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type categoryInput struct {
	Name string `json:"name" binding:"required"`
}

type productInput struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Price       float64 `json:"price" binding:"gte=0"`
	CategoryID  string  `json:"categoryId" binding:"required"`
}

// Store is an in-memory implementation of the demo store API. It issues
// HS256 tokens on /api/authenticate and requires one on every write.
type Store struct {
	mu         sync.Mutex
	categories map[int]*Category
	products   map[int]*Product
	nextID     int

	key []byte
	log logrus.FieldLogger
}

// NewStore returns a store seeded with three categories and a few
// products. A nil log discards request logs.
func NewStore(log logrus.FieldLogger) (*Store, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}

	s := &Store{
		categories: map[int]*Category{},
		products:   map[int]*Product{},
		nextID:     100,
		key:        key,
		log:        log,
	}
	for _, c := range []Category{{5, "For Him"}, {6, "For Her"}, {7, "Everyone"}} {
		s.categories[c.ID] = &c
	}
	for _, p := range []Product{
		{17, "Casual Black-Blue", "<p>Some casual black &amp; blue glasses</p>", "casual-blackblue-open.jpg", 24.99, "7"},
		{18, "Black and Red Glasses", "<p>A pair of black and red glasses</p>", "black-and-red-glasses.jpg", 18.99, "7"},
		{19, "Bright Yellow Glasses", "<p>A bright yellow pair</p>", "bright-yellow-glasses.jpg", 17.99, "7"},
		{20, "Pink Panther", "<p>Pink sunglasses for summer</p>", "pink-panther.jpg", 15.99, "6"},
		{21, "Curved Brown", "<p>Curved brown sunglasses</p>", "curved-brown.jpg", 21.99, "5"},
	} {
		s.products[p.ID] = &p
	}
	return s, nil
}

// IssueToken signs a token for username.
func (s *Store) IssueToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

func (s *Store) verify(raw string) error {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// Handler returns the HTTP API.
func (s *Store) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	api := r.Group("/api")
	api.POST("/authenticate", s.authenticate)
	api.GET("/category", s.listCategories)
	api.GET("/category/:id", s.getCategory)
	api.GET("/product", s.listProducts)
	api.GET("/product/:id", s.getProduct)

	admin := api.Group("", s.requireToken)
	admin.POST("/category", s.createCategory)
	admin.PUT("/category/:id", s.updateCategory)
	admin.POST("/product", s.createProduct)
	admin.PUT("/product/:id", s.updateProduct)

	r.GET("/swagger-ui/favicon-32x32.png", func(c *gin.Context) {
		c.Data(http.StatusOK, "image/png", faviconPNG)
	})
	return r
}

// faviconPNG is a 1x1 transparent PNG.
var faviconPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func (s *Store) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start),
	}).Debug("Store request")
}

func (s *Store) requireToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
		return
	}
	if err := s.verify(raw); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}
	c.Next()
}

func (s *Store) authenticate(c *gin.Context) {
	var in credentials
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if in.Username != adminUsername || in.Password != adminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "bad credentials"})
		return
	}
	token, err := s.IssueToken(in.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
		return 0, false
	}
	return id, true
}

func (s *Store) listCategories(c *gin.Context) {
	s.mu.Lock()
	out := make([]Category, 0, len(s.categories))
	for _, cat := range s.categories {
		out = append(out, *cat)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, out)
}

func (s *Store) getCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	cat, found := s.categories[id]
	var out Category
	if found {
		out = *cat
	}
	s.mu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "category not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Store) createCategory(c *gin.Context) {
	var in categoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.nextID++
	cat := &Category{ID: s.nextID, Name: in.Name}
	s.categories[cat.ID] = cat
	out := *cat
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Store) updateCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in categoryInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	cat, found := s.categories[id]
	var out Category
	if found {
		cat.Name = in.Name
		out = *cat
	}
	s.mu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "category not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Store) listProducts(c *gin.Context) {
	category := c.Query("category")
	s.mu.Lock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if category == "" || p.CategoryID == category {
			out = append(out, *p)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	c.JSON(http.StatusOK, out)
}

func (s *Store) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s.mu.Lock()
	p, found := s.products[id]
	var out Product
	if found {
		out = *p
	}
	s.mu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "product not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Store) createProduct(c *gin.Context) {
	var in productInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.nextID++
	p := &Product{ID: s.nextID}
	p.apply(in)
	s.products[p.ID] = p
	out := *p
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Store) updateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in productInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	s.mu.Lock()
	p, found := s.products[id]
	var out Product
	if found {
		p.apply(in)
		out = *p
	}
	s.mu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"message": "product not found"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (p *Product) apply(in productInput) {
	p.Name = in.Name
	p.Description = in.Description
	p.Image = in.Image
	p.Price = in.Price
	p.CategoryID = in.CategoryID
}
